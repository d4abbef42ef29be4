package chat

import (
	"context"
	"testing"
	"time"

	"github.com/chatflow/internal/feed"
	"github.com/chatflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roomRig struct {
	room     *Room
	bus      *feed.Bus
	clock    *fakeClock
	msgs     *fakeMessages
	typing   *fakeTyping
	uploader *fakeUploader
}

func newRoomRig(t *testing.T, history ...model.Message) *roomRig {
	t.Helper()
	rig := &roomRig{
		bus:      feed.NewBus(),
		clock:    newFakeClock(),
		msgs:     newFakeMessages(history...),
		typing:   newFakeTyping(),
		uploader: &fakeUploader{},
	}
	profiles := newFakeProfiles(model.Profile{ID: "u1", Username: "alice"}, model.Profile{ID: "u2", Username: "bob"})
	rig.room = NewRoom(Session{UserID: "u1", Email: "alice@example.com"}, Backend{
		Messages: rig.msgs,
		Replies:  rig.msgs,
		Profiles: profiles,
		Typing:   rig.typing,
		Uploader: rig.uploader,
	}, rig.clock, 0, nil)
	require.NoError(t, rig.room.Open(context.Background(), rig.bus))
	t.Cleanup(func() {
		rig.room.Close()
		rig.bus.Close()
	})
	return rig
}

func (r *roomRig) publish(t *testing.T, typ model.ChangeType, m model.Message) {
	r.bus.Publish(context.Background(), change(t, typ, m))
}

func TestRoom_LiveInsertAutoScrolls(t *testing.T) {
	rig := newRoomRig(t, msg("m1", "u2", "hello", t0))
	v := rig.room.View()
	require.Equal(t, StateReady, v.State)
	assert.Equal(t, "alice@example.com", v.Email)
	assert.Equal(t, 0, v.Scroll)

	rig.publish(t, model.ChangeInsert, msg("m2", "u2", "again", t0.Add(time.Second)))

	assert.Eventually(t, func() bool { return len(rig.room.View().Messages) == 2 }, time.Second, 5*time.Millisecond)
	v = rig.room.View()
	assert.Equal(t, 1, v.Scroll)
	assert.Equal(t, "bob", v.Messages[1].AuthorName())
}

func TestRoom_JumpToHighlightsBriefly(t *testing.T) {
	rig := newRoomRig(t,
		msg("m1", "u2", "one", t0),
		msg("m2", "u2", "two", t0.Add(time.Second)),
		msg("m3", "u2", "three", t0.Add(2*time.Second)),
	)

	assert.False(t, rig.room.JumpTo("missing"))
	require.True(t, rig.room.JumpTo("m1"))
	v := rig.room.View()
	assert.Equal(t, 0, v.Scroll)
	assert.Equal(t, "m1", v.Highlight)

	rig.clock.Advance(HighlightDuration - time.Millisecond)
	assert.Equal(t, "m1", rig.room.View().Highlight)
	rig.clock.Advance(time.Millisecond)
	assert.Empty(t, rig.room.View().Highlight)
}

func TestRoom_SubmitSendsReplyAndClearsTyping(t *testing.T) {
	rig := newRoomRig(t, msg("m1", "u2", "question?", t0))
	rig.typing.slowTrue = 30 * time.Millisecond
	require.NoError(t, rig.room.Reply("m1"))
	require.NotNil(t, rig.room.View().ReplyTo)

	rig.room.SetDraft("a")
	rig.room.SubmitText("answer")

	assert.Eventually(t, func() bool { return len(rig.msgs.Created()) == 1 }, time.Second, 5*time.Millisecond)
	created := rig.msgs.Created()[0]
	assert.Equal(t, "answer", created.Text())
	require.NotNil(t, created.ReplyTo)
	assert.Equal(t, "m1", *created.ReplyTo)
	assert.Eventually(t, func() bool { return rig.room.View().ReplyTo == nil }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rig.room.View().Draft)

	// Close ждёт последней записи флага набора.
	rig.room.Close()
	row, ok := rig.typing.Row("u1")
	require.True(t, ok)
	assert.False(t, row.IsTyping)
	ups := rig.typing.Upserts()
	require.NotEmpty(t, ups)
	assert.False(t, ups[len(ups)-1].IsTyping)
}

func TestRoom_SubmitTextDoesNotSignalTyping(t *testing.T) {
	rig := newRoomRig(t)
	rig.room.SubmitText("hi")
	assert.Eventually(t, func() bool { return len(rig.msgs.Created()) == 1 }, time.Second, 5*time.Millisecond)
	rig.room.Close()
	for _, up := range rig.typing.Upserts() {
		assert.False(t, up.IsTyping)
	}
}

func TestRoom_LocalBusShowsOwnWrites(t *testing.T) {
	ctx := context.Background()
	bus := feed.NewBus()
	msgs := newFakeMessages(msg("m0", "u2", "earlier", t0))
	typing := newFakeTyping()
	room := NewRoom(Session{UserID: "u1"}, Backend{
		Messages: NewPublishingMessages(msgs, bus),
		Replies:  msgs,
		Profiles: newFakeProfiles(model.Profile{ID: "u1", Username: "alice"}, model.Profile{ID: "u2", Username: "bob"}),
		Typing:   NewPublishingTyping(typing, bus),
		Uploader: &fakeUploader{},
	}, newFakeClock(), 0, nil)
	require.NoError(t, room.Open(ctx, bus))
	t.Cleanup(func() {
		room.Close()
		bus.Close()
	})

	room.SetDraft("hello")
	room.Submit()
	require.Eventually(t, func() bool { return len(room.View().Messages) == 2 }, time.Second, 5*time.Millisecond)
	mine := room.View().Messages[1]
	assert.Equal(t, "hello", mine.Text())
	assert.Equal(t, "alice", mine.AuthorName())

	require.NoError(t, room.Edit(ctx, mine.ID, "hello again"))
	assert.Eventually(t, func() bool {
		m, ok := room.Store().Find(mine.ID)
		return ok && m.IsEdited && m.Text() == "hello again"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, room.Delete(ctx, mine.ID))
	assert.Eventually(t, func() bool { return len(room.View().Messages) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRoom_EditAndDeleteOnlyOwn(t *testing.T) {
	ctx := context.Background()
	rig := newRoomRig(t, msg("mine", "u1", "typo", t0), msg("theirs", "u2", "hey", t0.Add(time.Second)))

	assert.ErrorIs(t, rig.room.Edit(ctx, "theirs", "nope"), ErrNotOwn)
	assert.ErrorIs(t, rig.room.Delete(ctx, "theirs"), ErrNotOwn)
	assert.ErrorIs(t, rig.room.Edit(ctx, "mine", "   "), ErrEmptyMessage)

	require.NoError(t, rig.room.Edit(ctx, "mine", "fixed"))
	assert.Equal(t, "fixed", rig.msgs.edits["mine"])

	require.NoError(t, rig.room.Delete(ctx, "mine"))
	rig.publish(t, model.ChangeDelete, model.Message{ID: "mine"})
	assert.Eventually(t, func() bool { return len(rig.room.View().Messages) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRoom_NoticeExpires(t *testing.T) {
	rig := newRoomRig(t)
	err := rig.room.Composer().Attach(Attachment{Name: "x.pdf", ContentType: "application/pdf", Size: 10})
	require.ErrorIs(t, err, ErrNotImage)

	assert.Equal(t, NoticeNotImage, rig.room.View().Notice)
	rig.clock.Advance(NoticeDuration)
	assert.Empty(t, rig.room.View().Notice)
}

func TestRoom_CloseCancelsNoticeTimer(t *testing.T) {
	rig := newRoomRig(t)
	rig.room.Notify("hello")
	require.Equal(t, "hello", rig.room.View().Notice)

	rig.room.Close()
	assert.Zero(t, rig.clock.Pending())
}
