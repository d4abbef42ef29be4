package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
)

const subscriptionBuffer = 256

var ErrClosed = errors.New("feed closed")

// Bus раздаёт события изменений внутри процесса по таблицам. У каждой подписки своя
// очередь и горутина: медленный обработчик задерживает только свои события, порядок
// сохраняется в пределах подписки. Publish блокируется, если очередь подписчика полна.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*busSub]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*busSub]struct{})}
}

type busSub struct {
	bus    *Bus
	table  string
	events chan model.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (b *Bus) Subscribe(ctx context.Context, table string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &busSub{
		bus:    b,
		table:  table,
		events: make(chan model.ChangeEvent, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if b.subs[table] == nil {
		b.subs[table] = make(map[*busSub]struct{})
	}
	b.subs[table][s] = struct{}{}
	go s.run(subCtx, h)
	return s, nil
}

func (s *busSub) run(ctx context.Context, h Handler) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			h(ctx, ev)
		}
	}
}

// Unsubscribe удаляет подписку и ждёт завершения текущего вызова обработчика.
// Нельзя вызывать из обработчика этой же подписки.
func (s *busSub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.table], s)
		s.bus.mu.Unlock()
		s.cancel()
		<-s.done
	})
}

// Publish передаёт ev всем подписчикам ev.Table.
func (b *Bus) Publish(ctx context.Context, ev model.ChangeEvent) {
	b.mu.RLock()
	targets := make([]*busSub, 0, len(b.subs[ev.Table]))
	for s := range b.subs[ev.Table] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	metrics.FeedEvents.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	for _, s := range targets {
		select {
		case s.events <- ev:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// Close отписывает всех.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*busSub
	for _, subs := range b.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}
