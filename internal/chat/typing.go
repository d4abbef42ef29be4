package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
)

// TypingExpiry — через сколько после последнего нажатия свой флаг набора сбрасывается.
const TypingExpiry = 3000 * time.Millisecond

// TypingStore — таблица typing_indicators, одна строка на пользователя.
type TypingStore interface {
	Upsert(ctx context.Context, s model.TypingSignal) error
	ListTyping(ctx context.Context, excludeUserID string) ([]model.TypingSignal, error)
}

type typer struct {
	name      string
	updatedAt time.Time
}

// Presence следит, кто ещё печатает, и публикует свой флаг набора.
//
// Строки других пользователей перечитываются целиком на каждое уведомление. Сигнал
// устаревает через 5s после updated_at; таймер срабатывает на ближайшем устаревании,
// так что список сокращается и без новых уведомлений.
type Presence struct {
	session  Session
	store    TypingStore
	profiles *ProfileCache
	clock    Clock
	expiry   *Debouncer
	sweep    *Debouncer

	mu        sync.Mutex
	ctx       context.Context
	typers    []typer
	listeners map[int]func([]string)
	nextID    int
	closed    bool
}

func NewPresence(session Session, store TypingStore, profiles *ProfileCache, clock Clock) *Presence {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Presence{
		session:   session,
		store:     store,
		profiles:  profiles,
		clock:     clock,
		expiry:    NewDebouncer(clock, TypingExpiry),
		sweep:     NewDebouncer(clock, model.TypingStaleAfter),
		ctx:       context.Background(),
		listeners: make(map[int]func([]string)),
	}
}

// Bind задаёт контекст для вызовов из таймеров (сброс флага и sweep).
func (p *Presence) Bind(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

// SetTyping пишет свою строку и, если typing, взводит таймер сброса.
// Каждый вызов отменяет прежний таймер: серия нажатий даёт один сброс.
func (p *Presence) SetTyping(ctx context.Context, typing bool) {
	p.expiry.Cancel()
	p.upsert(ctx, typing)
	if typing {
		p.expiry.Trigger(func() { p.upsert(p.bgContext(), false) })
	}
}

func (p *Presence) upsert(ctx context.Context, typing bool) {
	sig := model.TypingSignal{UserID: p.session.UserID, IsTyping: typing, UpdatedAt: p.clock.Now()}
	if err := p.store.Upsert(ctx, sig); err != nil {
		logger.Errorf("typing: upsert %v: %v", typing, err)
	}
}

// HandleChange — обработчик фида для typing_indicators. Содержимое события не используется.
func (p *Presence) HandleChange(ctx context.Context, _ model.ChangeEvent) {
	if err := p.Refresh(ctx); err != nil {
		logger.Errorf("typing: %v", err)
	}
}

// Refresh перечитывает строки набора других пользователей и публикует активные
// в порядке запроса. Пользователи без профиля пропускаются.
func (p *Presence) Refresh(ctx context.Context) error {
	rows, err := p.store.ListTyping(ctx, p.session.UserID)
	if err != nil {
		return fmt.Errorf("typing.Refresh: %w", err)
	}
	now := p.clock.Now()
	typers := make([]typer, 0, len(rows))
	for _, row := range rows {
		if row.UserID == p.session.UserID || !row.Active(now) {
			continue
		}
		prof, err := p.profiles.Get(ctx, row.UserID)
		if err != nil {
			logger.Debugf("typing: profile %s: %v", row.UserID, err)
			continue
		}
		if prof == nil {
			continue
		}
		typers = append(typers, typer{name: prof.Username, updatedAt: row.UpdatedAt})
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.typers = typers
	p.mu.Unlock()
	p.armSweep(now)
	p.publish()
	return nil
}

// ActiveTypers — имена других пользователей, печатающих прямо сейчас.
func (p *Presence) ActiveTypers() []string {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.typers))
	for _, t := range p.typers {
		if now.Sub(t.updatedAt) < model.TypingStaleAfter {
			names = append(names, t.name)
		}
	}
	return names
}

// armSweep планирует повторную публикацию на момент устаревания самого старого сигнала.
func (p *Presence) armSweep(now time.Time) {
	p.mu.Lock()
	var oldest time.Time
	for _, t := range p.typers {
		if oldest.IsZero() || t.updatedAt.Before(oldest) {
			oldest = t.updatedAt
		}
	}
	p.mu.Unlock()
	if oldest.IsZero() {
		p.sweep.Cancel()
		return
	}
	wait := oldest.Add(model.TypingStaleAfter).Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.sweep.TriggerAfter(wait, func() {
		p.prune()
		p.publish()
	})
}

func (p *Presence) prune() {
	now := p.clock.Now()
	p.mu.Lock()
	kept := p.typers[:0]
	for _, t := range p.typers {
		if now.Sub(t.updatedAt) < model.TypingStaleAfter {
			kept = append(kept, t)
		}
	}
	p.typers = kept
	p.mu.Unlock()
	if len(kept) > 0 {
		p.armSweep(now)
	}
}

// Subscribe регистрирует fn на каждое изменение списка печатающих.
func (p *Presence) Subscribe(fn func([]string)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Presence) publish() {
	names := p.ActiveTypers()
	p.mu.Lock()
	fns := make([]func([]string), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(names)
	}
}

// Close останавливает оба таймера. Несработавший сброс теряется, строка доживёт до устаревания.
func (p *Presence) Close() {
	p.mu.Lock()
	p.closed = true
	p.typers = nil
	p.mu.Unlock()
	p.expiry.Cancel()
	p.sweep.Cancel()
}

func (p *Presence) bgContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// TypingLabel — строка индикатора: "A is typing", "A and B are typing",
// "A and 2 others are typing". Пустая, если имён нет.
func TypingLabel(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing"
	case 2:
		return names[0] + " and " + names[1] + " are typing"
	default:
		return fmt.Sprintf("%s and %d others are typing", names[0], len(names)-1)
	}
}

// typingQueue передаёт свой флаг набора единственной горутине-писателю. Хранится только
// последнее неотправленное значение, поэтому последний вызов Set в порядке программы
// становится последним upsert.
type typingQueue struct {
	presence *Presence

	mu     sync.Mutex
	ctx    context.Context
	next   *bool
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newTypingQueue(p *Presence) *typingQueue {
	q := &typingQueue{
		presence: p,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *typingQueue) Set(ctx context.Context, typing bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ctx = ctx
	q.next = &typing
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *typingQueue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			v, ctx := q.next, q.ctx
			q.next = nil
			q.mu.Unlock()
			if v == nil {
				break
			}
			q.presence.SetTyping(ctx, *v)
		}
	}
}

// Close дожидается записи последнего значения.
func (q *typingQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.wake)
	q.mu.Unlock()
	<-q.done
}
