package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CancelAndReschedule(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(clock, time.Second)
	calls := 0

	d.Trigger(func() { calls++ })
	clock.Advance(600 * time.Millisecond)
	d.Trigger(func() { calls++ })
	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 0, calls)
	assert.True(t, d.Pending())

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, 1, calls)
	assert.False(t, d.Pending())
	assert.False(t, d.Cancel())
}

func TestPresence_SetTypingCoalescesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newFakeTyping()
	p := NewPresence(Session{UserID: "u1"}, store, NewProfileCache(newFakeProfiles()), clock)
	defer p.Close()

	p.SetTyping(ctx, true)
	clock.Advance(time.Second)
	p.SetTyping(ctx, true)
	assert.Equal(t, 1, clock.Pending(), "one expiry armed")

	clock.Advance(TypingExpiry - time.Millisecond)
	ups := store.Upserts()
	require.Len(t, ups, 2)
	assert.True(t, ups[1].IsTyping)

	clock.Advance(time.Millisecond)
	ups = store.Upserts()
	require.Len(t, ups, 3)
	assert.False(t, ups[2].IsTyping)
	assert.Equal(t, t0.Add(time.Second+TypingExpiry), ups[2].UpdatedAt)
}

func TestPresence_SetTypingFalseClearsExpiry(t *testing.T) {
	clock := newFakeClock()
	store := newFakeTyping()
	p := NewPresence(Session{UserID: "u1"}, store, NewProfileCache(newFakeProfiles()), clock)

	p.SetTyping(context.Background(), true)
	p.SetTyping(context.Background(), false)
	clock.Advance(10 * time.Second)

	ups := store.Upserts()
	require.Len(t, ups, 2)
	assert.False(t, ups[1].IsTyping)
}

// u1 печатает; u2 видит его, пока сигнал свежий, и теряет через 5s без обновления,
// не дожидаясь нового уведомления.
func TestPresence_StaleClaimsDropOut(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := newFakeTyping()
	profiles := newFakeProfiles(model.Profile{ID: "u1", Username: "alice"}, model.Profile{ID: "u2", Username: "bob"})

	u1 := NewPresence(Session{UserID: "u1"}, table, NewProfileCache(profiles), clock)
	u2 := NewPresence(Session{UserID: "u2"}, table, NewProfileCache(profiles), clock)
	defer u2.Close()

	var mu sync.Mutex
	var published [][]string
	u2.Subscribe(func(names []string) {
		mu.Lock()
		published = append(published, names)
		mu.Unlock()
	})

	u1.SetTyping(ctx, true)
	u1.Close() // the expiry never runs, as if the tab was closed
	u2.HandleChange(ctx, model.ChangeEvent{Table: model.TableTyping, Type: model.ChangeInsert})

	assert.Equal(t, []string{"alice"}, u2.ActiveTypers())
	clock.Advance(4 * time.Second)
	assert.Equal(t, []string{"alice"}, u2.ActiveTypers())

	clock.Advance(time.Second)
	assert.Empty(t, u2.ActiveTypers())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2)
	assert.Equal(t, []string{"alice"}, published[0])
	assert.Empty(t, published[1])
}

func TestPresence_ExcludesSelfAndUnknownUsers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	table := newFakeTyping()
	profiles := newFakeProfiles(model.Profile{ID: "u2", Username: "bob"}, model.Profile{ID: "u3", Username: "carol"})
	p := NewPresence(Session{UserID: "u1"}, table, NewProfileCache(profiles), clock)
	defer p.Close()

	now := clock.Now()
	for _, id := range []string{"u1", "u3", "ghost", "u2"} {
		require.NoError(t, table.Upsert(ctx, model.TypingSignal{UserID: id, IsTyping: true, UpdatedAt: now}))
	}
	require.NoError(t, p.Refresh(ctx))

	assert.Equal(t, []string{"carol", "bob"}, p.ActiveTypers())
}

func TestTypingLabel(t *testing.T) {
	assert.Equal(t, "", TypingLabel(nil))
	assert.Equal(t, "alice is typing", TypingLabel([]string{"alice"}))
	assert.Equal(t, "alice and bob are typing", TypingLabel([]string{"alice", "bob"}))
	assert.Equal(t, "alice and 2 others are typing", TypingLabel([]string{"alice", "bob", "carol"}))
}
