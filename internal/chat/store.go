package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit = 200
	enrichConcurrency   = 16
)

var ErrAlreadyLoaded = errors.New("message store already loaded")

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// MessageReader — чтение из messages, нужное хранилищу.
type MessageReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.Message, error)
}

// MessageWriter — запись. Права проверяет сторона БД.
type MessageWriter interface {
	Create(ctx context.Context, m *model.Message) error
	UpdateContent(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

// SendRequest — исходящее сообщение. Content и ImageURL не пусты одновременно:
// это гарантирует Composer, хранилище не перепроверяет.
type SendRequest struct {
	Content  string
	AuthorID string
	ReplyTo  string
	ImageURL string
}

// Snapshot — неизменяемый снимок хранилища для подписчиков.
// Version растёт на единицу с каждым изменением.
type Snapshot struct {
	Version  uint64
	State    State
	Messages []model.EnrichedMessage
}

// MessageStore хранит упорядоченные обогащённые сообщения комнаты.
// Заполняется через Load, дальше поддерживается HandleChange; свои записи приходят
// обратно через фид и локально не применяются.
type MessageStore struct {
	reader   MessageReader
	writer   MessageWriter
	enricher *Enricher
	limit    int
	newID    func() string

	mu        sync.Mutex
	state     State
	version   uint64
	messages  []model.EnrichedMessage
	pending   []Event
	listeners map[int]func(Snapshot)
	nextID    int
}

func NewMessageStore(reader MessageReader, writer MessageWriter, enricher *Enricher, limit int) *MessageStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MessageStore{
		reader:    reader,
		writer:    writer,
		enricher:  enricher,
		limit:     limit,
		newID:     func() string { return uuid.New().String() },
		listeners: make(map[int]func(Snapshot)),
	}
}

// Load читает последние сообщения, обогащает их параллельно и публикует в исходном
// порядке по возрастанию. Изменения, пришедшие за это время, применяются поверх.
// При ошибке чтения состояние всё равно становится StateReady.
func (s *MessageStore) Load(ctx context.Context) error {
	defer logger.DeferLogDuration("store.Load", time.Now())()
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.state = StateLoading
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	rows, err := s.reader.ListRecent(ctx, s.limit)
	if err != nil {
		logger.Errorf("store: initial fetch: %v", err)
	}

	enriched := make([]model.EnrichedMessage, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, row := range rows {
		g.Go(func() error {
			enriched[i] = s.enricher.Enrich(gctx, row)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	list := enriched
	for _, ev := range s.pending {
		list = Apply(list, ev)
	}
	s.pending = nil
	s.messages = list
	s.state = StateReady
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if err != nil {
		return fmt.Errorf("store.Load: %w", err)
	}
	return nil
}

// HandleChange — обработчик фида для таблицы messages.
func (s *MessageStore) HandleChange(ctx context.Context, ce model.ChangeEvent) {
	raw, err := ce.DecodeMessage()
	if err != nil {
		logger.Errorf("store: %v", err)
		return
	}
	ev := Event{Type: ce.Type, Message: model.EnrichedMessage{Message: raw}}
	if ce.Type != model.ChangeDelete {
		ev.Message = s.enricher.Enrich(ctx, raw)
	}
	s.Dispatch(ev)
}

// Dispatch применяет готовое событие. До окончания первой загрузки событие ставится
// в очередь и применяется после снимка.
func (s *MessageStore) Dispatch(ev Event) {
	s.mu.Lock()
	if s.state != StateReady {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.messages = Apply(s.messages, ev)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Send создаёт строку сообщения. Само сообщение появится через фид.
func (s *MessageStore) Send(ctx context.Context, req SendRequest) error {
	m := &model.Message{
		ID:     s.newID(),
		UserID: req.AuthorID,
	}
	if c := req.Content; c != "" {
		m.Content = &c
	}
	if r := req.ReplyTo; r != "" {
		m.ReplyTo = &r
	}
	if u := req.ImageURL; u != "" {
		m.ImageURL = &u
	}
	if err := s.writer.Create(ctx, m); err != nil {
		logger.Errorf("store: send by %s: %v", req.AuthorID, err)
		return fmt.Errorf("store.Send: %w", err)
	}
	return nil
}

// Edit заменяет текст и помечает сообщение отредактированным.
func (s *MessageStore) Edit(ctx context.Context, id, content string) error {
	if err := s.writer.UpdateContent(ctx, id, strings.TrimSpace(content)); err != nil {
		logger.Errorf("store: edit %s: %v", id, err)
		return fmt.Errorf("store.Edit: %w", err)
	}
	return nil
}

func (s *MessageStore) Remove(ctx context.Context, id string) error {
	if err := s.writer.Delete(ctx, id); err != nil {
		logger.Errorf("store: delete %s: %v", id, err)
		return fmt.Errorf("store.Remove: %w", err)
	}
	return nil
}

// Subscribe регистрирует fn на каждый снимок и возвращает функцию отписки.
// fn вызывается вне блокировки и может читать хранилище.
func (s *MessageStore) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *MessageStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MessageStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Find ищет сообщение по id в списке.
func (s *MessageStore) Find(id string) (model.EnrichedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.messages, id); i >= 0 {
		return s.messages[i], true
	}
	return model.EnrichedMessage{}, false
}

func (s *MessageStore) snapshotLocked() Snapshot {
	s.version++
	msgs := make([]model.EnrichedMessage, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{Version: s.version, State: s.state, Messages: msgs}
}

func (s *MessageStore) notify(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
