package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chatflow/internal/feed"
	"github.com/chatflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(0)
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, "*").ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func TestParseTables(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?table=messages&table=typing_indicators,messages", nil)
	tables, ok := parseTables(r)
	require.True(t, ok)
	assert.Equal(t, []string{"messages", "typing_indicators"}, tables)

	_, ok = parseTables(httptest.NewRequest(http.MethodGet, "/ws?table=users", nil))
	assert.False(t, ok)

	tables, ok = parseTables(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.True(t, ok)
	assert.Len(t, tables, 3)
}

func TestRelay_DeliversOnlySubscribedTables(t *testing.T) {
	hub, srv := startRelay(t)
	ctx := context.Background()

	f, err := feed.NewWSFeed(ctx, srv.URL, model.TableMessages)
	require.NoError(t, err)
	defer f.Close()

	var mu sync.Mutex
	var got []model.ChangeEvent
	sub, err := f.Subscribe(ctx, model.TableMessages, func(_ context.Context, ev model.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(ctx, model.ChangeEvent{Table: model.TableTyping, Type: model.ChangeUpdate, Key: "u1"})
	hub.Broadcast(ctx, model.ChangeEvent{
		Table:  model.TableMessages,
		Type:   model.ChangeInsert,
		Record: json.RawMessage(`{"id":"m1","user_id":"u1","content":"hi"}`),
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	m, err := got[0].DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "hi", m.Text())
}

func TestRelay_RejectsUnknownTable(t *testing.T) {
	_, srv := startRelay(t)
	_, err := feed.NewWSFeed(context.Background(), srv.URL, "users")
	assert.Error(t, err)
}
