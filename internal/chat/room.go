package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatflow/internal/feed"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/objectstore"
)

const (
	HighlightDuration = 1500 * time.Millisecond
	NoticeDuration    = 4 * time.Second
)

var (
	ErrNotOwn         = errors.New("message belongs to another user")
	ErrUnknownMessage = errors.New("message not in view")
)

// Backend — внешние зависимости комнаты.
type Backend struct {
	Messages interface {
		MessageReader
		MessageWriter
	}
	Replies  ReplyLookup
	Profiles ProfileSource
	Typing   TypingStore
	Uploader objectstore.Store
}

// RoomView — всё, что нужно для отрисовки одного кадра.
type RoomView struct {
	Email      string
	State      State
	Messages   []model.EnrichedMessage
	Scroll     int
	Highlight  string
	Typing     string
	ReplyTo    *model.EnrichedMessage
	Notice     string
	Draft      string
	Attachment string
	Uploading  bool
}

// Room связывает хранилище сообщений, индикатор набора и поле ввода единственной комнаты
// и держит состояние экрана: ответ, позицию прокрутки, подсветку.
type Room struct {
	session   Session
	clock     Clock
	profiles  *ProfileCache
	store     *MessageStore
	presence  *Presence
	composer  *Composer
	typingQ   *typingQueue
	highlight *Debouncer
	notice    *Debouncer
	signOut   func()

	mu          sync.Mutex
	ctx         context.Context
	index       map[string]int
	scroll      int
	highlighted string
	replyTo     string
	noticeText  string
	noticeUntil time.Time
	listeners   map[int]func()
	nextID      int
	subs        []feed.Subscription
	unsubs      []func()
	wg          sync.WaitGroup
	closed      bool
}

// NewRoom собирает комнату для session. signOut вызывается из SignOut после закрытия
// комнаты; может быть nil.
func NewRoom(session Session, be Backend, clock Clock, historyLimit int, signOut func()) *Room {
	if clock == nil {
		clock = SystemClock{}
	}
	r := &Room{
		session:   session,
		clock:     clock,
		profiles:  NewProfileCache(be.Profiles),
		highlight: NewDebouncer(clock, HighlightDuration),
		notice:    NewDebouncer(clock, NoticeDuration),
		signOut:   signOut,
		ctx:       context.Background(),
		index:     make(map[string]int),
		listeners: make(map[int]func()),
	}
	r.store = NewMessageStore(be.Messages, be.Messages, NewEnricher(r.profiles, be.Replies), historyLimit)
	r.presence = NewPresence(session, be.Typing, r.profiles, clock)
	r.typingQ = newTypingQueue(r.presence)
	r.composer = NewComposer(session, be.Uploader, NotifyFunc(r.Notify), clock, ComposerHooks{
		Send:        r.send,
		Typing:      r.typing,
		ReplyTarget: r.replyTarget,
		CancelReply: r.CancelReply,
	})
	r.unsubs = append(r.unsubs,
		r.store.Subscribe(r.onStore),
		r.presence.Subscribe(func([]string) { r.changed() }),
	)
	return r
}

// Open подписывается на фид и загружает историю. Подписка идёт первой, чтобы не
// потерять изменения, закоммиченные во время загрузки.
func (r *Room) Open(ctx context.Context, f feed.Feed) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	r.presence.Bind(ctx)

	msgSub, err := f.Subscribe(ctx, model.TableMessages, r.store.HandleChange)
	if err != nil {
		return fmt.Errorf("room.Open messages: %w", err)
	}
	typingSub, err := f.Subscribe(ctx, model.TableTyping, r.presence.HandleChange)
	if err != nil {
		msgSub.Unsubscribe()
		return fmt.Errorf("room.Open typing: %w", err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, msgSub, typingSub)
	r.mu.Unlock()

	if err := r.store.Load(ctx); err != nil {
		logger.Errorf("room: %v", err)
	}
	if err := r.presence.Refresh(ctx); err != nil {
		logger.Errorf("room: %v", err)
	}
	return nil
}

func (r *Room) Store() *MessageStore { return r.store }
func (r *Room) Presence() *Presence { return r.presence }
func (r *Room) Composer() *Composer { return r.composer }
func (r *Room) Session() Session { return r.session }

func (r *Room) onStore(snap Snapshot) {
	idx := make(map[string]int, len(snap.Messages))
	for i, m := range snap.Messages {
		idx[m.ID] = i
	}
	r.mu.Lock()
	r.index = idx
	r.scroll = len(snap.Messages) - 1
	if r.replyTo != "" {
		if _, ok := idx[r.replyTo]; !ok {
			r.replyTo = ""
		}
	}
	r.mu.Unlock()
	r.changed()
}

// Reply делает id целью ответа для следующего сообщения.
func (r *Room) Reply(id string) error {
	r.mu.Lock()
	_, ok := r.index[id]
	if ok {
		r.replyTo = id
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	r.changed()
	return nil
}

func (r *Room) CancelReply() {
	r.mu.Lock()
	changed := r.replyTo != ""
	r.replyTo = ""
	r.mu.Unlock()
	if changed {
		r.changed()
	}
}

func (r *Room) replyTarget() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replyTo
}

// Position — индекс id в списке сообщений.
func (r *Room) Position(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	return i, ok
}

// JumpTo прокручивает к id и подсвечивает его на HighlightDuration. false, если
// сообщение не загружено.
func (r *Room) JumpTo(id string) bool {
	r.mu.Lock()
	i, ok := r.index[id]
	if ok {
		r.scroll = i
		r.highlighted = id
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.highlight.Trigger(func() {
		r.mu.Lock()
		if r.highlighted == id {
			r.highlighted = ""
		}
		r.mu.Unlock()
		r.changed()
	})
	r.changed()
	return true
}

// ScrollTo прокручивает к позиции i в пределах списка.
func (r *Room) ScrollTo(i int) {
	r.mu.Lock()
	n := len(r.index)
	switch {
	case i >= n:
		i = n - 1
	case i < 0:
		i = 0
	}
	r.scroll = i
	r.mu.Unlock()
	r.changed()
}

// IsOwn — сообщение написано текущим пользователем.
func (r *Room) IsOwn(m model.EnrichedMessage) bool {
	return m.UserID == r.session.UserID
}

// Edit меняет текст своего сообщения. Пустой текст отклоняется.
func (r *Room) Edit(ctx context.Context, id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	m, ok := r.store.Find(id)
	if !ok {
		return ErrUnknownMessage
	}
	if !r.IsOwn(m) {
		return ErrNotOwn
	}
	if m.Text() == content {
		return nil
	}
	return r.store.Edit(ctx, id, content)
}

// Delete удаляет своё сообщение.
func (r *Room) Delete(ctx context.Context, id string) error {
	m, ok := r.store.Find(id)
	if !ok {
		return ErrUnknownMessage
	}
	if !r.IsOwn(m) {
		return ErrNotOwn
	}
	return r.store.Remove(ctx, id)
}

// SetDraft обновляет текст черновика.
func (r *Room) SetDraft(text string) {
	r.composer.SetText(text)
	r.changed()
}

// SubmitText подставляет text в черновик без сигнала о наборе и отправляет его.
func (r *Room) SubmitText(text string) {
	r.composer.setText(text, false)
	r.Submit()
}

// Submit отправляет черновик в фоне. Результат приходит через фид и уведомления.
func (r *Room) Submit() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		defer r.changed()
		if err := r.composer.Send(ctx); err != nil && !errors.Is(err, ErrEmptyMessage) {
			logger.Debugf("room: submit: %v", err)
		}
	}()
	r.changed()
}

func (r *Room) send(ctx context.Context, content, replyTo, imageURL string) error {
	err := r.store.Send(ctx, SendRequest{
		Content:  content,
		AuthorID: r.session.UserID,
		ReplyTo:  replyTo,
		ImageURL: imageURL,
	})
	r.typingQ.Set(ctx, false)
	return err
}

func (r *Room) typing() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	r.typingQ.Set(ctx, true)
}

// Notify показывает text на NoticeDuration, заменяя текущее уведомление.
func (r *Room) Notify(text string) {
	r.mu.Lock()
	r.noticeText = text
	r.noticeUntil = r.clock.Now().Add(NoticeDuration)
	r.mu.Unlock()
	r.notice.Trigger(r.changed)
	r.changed()
}

// View — снимок комнаты для отрисовки.
func (r *Room) View() RoomView {
	snap := r.store.Snapshot()
	v := RoomView{
		Email:     r.session.Email,
		State:     snap.State,
		Messages:  snap.Messages,
		Typing:    TypingLabel(r.presence.ActiveTypers()),
		Draft:     r.composer.Text(),
		Uploading: r.composer.Uploading(),
	}
	if a := r.composer.Attachment(); a != nil {
		v.Attachment = a.Name
	}
	now := r.clock.Now()
	r.mu.Lock()
	v.Scroll = r.scroll
	v.Highlight = r.highlighted
	if now.Before(r.noticeUntil) {
		v.Notice = r.noticeText
	}
	replyTo := r.replyTo
	r.mu.Unlock()
	if v.Scroll >= len(v.Messages) {
		v.Scroll = len(v.Messages) - 1
	}
	if replyTo != "" {
		if m, ok := r.store.Find(replyTo); ok {
			v.ReplyTo = &m
		}
	}
	return v
}

// Subscribe регистрирует fn, вызываемую после любого изменения экрана.
func (r *Room) Subscribe(fn func()) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Room) changed() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close снимает подписки и таймеры и ждёт фоновые отправки.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	unsubs := r.unsubs
	r.subs, r.unsubs = nil, nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	r.wg.Wait()
	r.typingQ.Close()
	for _, u := range unsubs {
		u()
	}
	r.presence.Close()
	r.highlight.Cancel()
	r.notice.Cancel()
}

// SignOut закрывает комнату и возвращает управление авторизации.
func (r *Room) SignOut() {
	r.Close()
	if r.signOut != nil {
		r.signOut()
	}
}
