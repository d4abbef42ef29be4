package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisChannelPrefix + имя таблицы — pub/sub канал её событий.
const RedisChannelPrefix = "chatflow:changes:"

// RedisFeed получает события, которые relay переопубликовал в Redis.
// После обрыва go-redis переподписывается сам.
type RedisFeed struct {
	pubsub *redis.PubSub
	bus    *Bus
	done   chan struct{}
}

func NewRedisFeed(ctx context.Context, cli *redis.Client) (*RedisFeed, error) {
	pubsub := cli.PSubscribe(ctx, RedisChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("feed.redis subscribe: %w", err)
	}
	f := &RedisFeed{pubsub: pubsub, bus: NewBus(), done: make(chan struct{})}
	go f.run()
	return f, nil
}

func (f *RedisFeed) run() {
	defer close(f.done)
	for msg := range f.pubsub.Channel() {
		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			metrics.FeedDecodeErrors.Inc()
			logger.Errorf("feed: bad redis payload on %s: %v", msg.Channel, err)
			continue
		}
		if ev.Table == "" {
			ev.Table = strings.TrimPrefix(msg.Channel, RedisChannelPrefix)
		}
		f.bus.Publish(context.Background(), ev)
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context, table string, h Handler) (Subscription, error) {
	return f.bus.Subscribe(ctx, table, h)
}

func (f *RedisFeed) Close() error {
	err := f.pubsub.Close()
	<-f.done
	if busErr := f.bus.Close(); err == nil {
		err = busErr
	}
	return err
}

// RedisPublisher переопубликует события для клиентов и relay на других хостах.
type RedisPublisher struct {
	cli *redis.Client
}

func NewRedisPublisher(cli *redis.Client) *RedisPublisher {
	return &RedisPublisher{cli: cli}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed.redis marshal: %w", err)
	}
	if err := p.cli.Publish(ctx, RedisChannelPrefix+ev.Table, data).Err(); err != nil {
		return fmt.Errorf("feed.redis publish: %w", err)
	}
	return nil
}
