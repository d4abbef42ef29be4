package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recorder) handle(_ context.Context, ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Key)
	}
	return out
}

func TestBus_RoutesByTableInOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	defer bus.Close()

	var msgs, typing recorder
	_, err := bus.Subscribe(ctx, model.TableMessages, msgs.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, model.TableTyping, typing.handle)
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		bus.Publish(ctx, model.ChangeEvent{Table: model.TableMessages, Type: model.ChangeInsert, Key: k})
	}
	bus.Publish(ctx, model.ChangeEvent{Table: model.TableTyping, Type: model.ChangeUpdate, Key: "u1"})

	assert.Eventually(t, func() bool { return len(msgs.keys()) == 3 && len(typing.keys()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, msgs.keys())
	assert.Equal(t, []string{"u1"}, typing.keys())
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	defer bus.Close()

	var rec recorder
	sub, err := bus.Subscribe(ctx, model.TableMessages, rec.handle)
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(ctx, model.ChangeEvent{Table: model.TableMessages, Type: model.ChangeInsert, Key: "late"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.keys())
}

func TestBus_ClosedRejectsSubscribe(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe(context.Background(), model.TableMessages, func(context.Context, model.ChangeEvent) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelayURL(t *testing.T) {
	u, err := RelayURL("http://localhost:8090", model.TableMessages, model.TableTyping)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8090/ws?table=messages&table=typing_indicators", u)

	u, err = RelayURL("https://rt.example.com/realtime/ws", model.TableMessages)
	require.NoError(t, err)
	assert.Equal(t, "wss://rt.example.com/realtime/ws?table=messages", u)
}

func TestChangeEventJSONShape(t *testing.T) {
	ev := model.ChangeEvent{Table: model.TableMessages, Type: model.ChangeDelete, OldRecord: json.RawMessage(`{"id":"m1"}`)}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"table":"messages","type":"DELETE","old_record":{"id":"m1"}}`, string(data))
}
