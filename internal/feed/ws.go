package feed

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsMaxBackoff = 30 * time.Second
)

// WSFeed — клиент relay (/ws?table=...). Одно соединение на все таблицы, при потере
// relay переподключается с backoff.
type WSFeed struct {
	endpoint string
	dialer   *websocket.Dialer
	bus      *Bus

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// RelayURL собирает адрес подписки relay для указанных таблиц.
func RelayURL(base string, tables ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("feed.ws parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	for _, t := range tables {
		q.Add("table", t)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewWSFeed подключается синхронно, чтобы ошибки конфигурации проявились при старте.
func NewWSFeed(ctx context.Context, base string, tables ...string) (*WSFeed, error) {
	endpoint, err := RelayURL(base, tables...)
	if err != nil {
		return nil, err
	}
	f := &WSFeed{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		bus:      NewBus(),
		done:     make(chan struct{}),
	}
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(runCtx, conn)
	return f, nil
}

func (f *WSFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("feed.ws dial %s: %w", f.endpoint, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return conn, nil
}

func (f *WSFeed) run(ctx context.Context, conn *websocket.Conn) {
	defer close(f.done)
	backoff := time.Second
	for {
		err := f.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("feed: relay connection lost: %v", err)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = f.dial(ctx)
			if err == nil {
				metrics.FeedReconnects.WithLabelValues("ws").Inc()
				backoff = time.Second
				break
			}
			logger.Errorf("feed: relay redial failed, retry in %v: %v", backoff, err)
			if backoff < wsMaxBackoff {
				backoff *= 2
			}
		}
	}
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return err
	}
	// Relay шлёт ping; любой кадр продлевает дедлайн.
	conn.SetPingHandler(func(data string) error {
		if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return err
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		var ev model.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return err
		}
		f.bus.Publish(ctx, ev)
	}
}

func (f *WSFeed) Subscribe(ctx context.Context, table string, h Handler) (Subscription, error) {
	return f.bus.Subscribe(ctx, table, h)
}

func (f *WSFeed) Close() error {
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		f.conn.Close()
	}
	f.mu.Unlock()
	<-f.done
	return f.bus.Close()
}
