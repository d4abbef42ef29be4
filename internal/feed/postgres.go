package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel — канал, в который пишут триггеры (migrations/002_change_feed.sql).
const NotifyChannel = "chat_changes"

// keyColumns — ключевая колонка событий каждой таблицы.
var keyColumns = map[string]string{
	model.TableMessages: "id",
	model.TableProfiles: "id",
	model.TableTyping:   "user_id",
}

// PGFeed слушает NOTIFY на одном выделенном соединении и раздаёт события через Bus.
// Слишком большие строки приходят только ключом и перечитываются через пул.
type PGFeed struct {
	pool   *pgxpool.Pool
	bus    *Bus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGFeed начинает слушать. Первый LISTEN обязан пройти, последующие обрывы
// переподключаются в фоне. Уведомления во время переподключения теряются.
func NewPGFeed(ctx context.Context, pool *pgxpool.Pool) (*PGFeed, error) {
	conn, err := listen(ctx, pool)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f := &PGFeed{pool: pool, bus: NewBus(), cancel: cancel, done: make(chan struct{})}
	go f.run(runCtx, conn)
	return f, nil
}

func listen(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed.listen acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("feed.listen: %w", err)
	}
	return conn, nil
}

func (f *PGFeed) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(f.done)
	backoff := time.Second
	for {
		err := f.consume(ctx, conn)
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("feed: postgres listener stopped: %v", err)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = listen(ctx, f.pool)
			if err == nil {
				metrics.FeedReconnects.WithLabelValues("postgres").Inc()
				logger.Info("feed: postgres listener reconnected")
				backoff = time.Second
				break
			}
			logger.Errorf("feed: postgres relisten failed, retry in %v: %v", backoff, err)
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (f *PGFeed) consume(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := f.decode(ctx, n.Payload)
		if err != nil {
			metrics.FeedDecodeErrors.Inc()
			logger.Errorf("feed: bad notification: %v", err)
			continue
		}
		f.bus.Publish(ctx, ev)
	}
}

func (f *PGFeed) decode(ctx context.Context, payload string) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode: %w", err)
	}
	if !ev.Truncated() {
		return ev, nil
	}
	row, err := f.fetchRow(ctx, ev.Table, ev.Key)
	if err != nil {
		return ev, err
	}
	ev.Record = row
	return ev, nil
}

// fetchRow читает текущую строку как JSON в том же виде, что отправил бы триггер.
func (f *PGFeed) fetchRow(ctx context.Context, table, key string) (json.RawMessage, error) {
	col, ok := keyColumns[table]
	if !ok {
		return nil, fmt.Errorf("fetch row: unknown table %q", table)
	}
	var row []byte
	err := f.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE t.%s = $1`, table, col), key,
	).Scan(&row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fetch row %s/%s: gone", table, key)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch row %s/%s: %w", table, key, err)
	}
	return row, nil
}

func (f *PGFeed) Subscribe(ctx context.Context, table string, h Handler) (Subscription, error) {
	return f.bus.Subscribe(ctx, table, h)
}

// Close прекращает LISTEN и отписывает всех.
func (f *PGFeed) Close() error {
	f.cancel()
	<-f.done
	return f.bus.Close()
}
