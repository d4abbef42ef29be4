package chat

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/repository"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// fakeClock срабатывает таймерами синхронно из Advance, по порядку сроков.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance сдвигает время на d и вызывает все наступившие таймеры.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

// Pending — число взведённых таймеров.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	calls    map[string]int
	delay    time.Duration
	delays   map[string]time.Duration
}

func newFakeProfiles(ps ...model.Profile) *fakeProfiles {
	f := &fakeProfiles{profiles: make(map[string]*model.Profile), calls: make(map[string]int)}
	for i := range ps {
		p := ps[i]
		f.profiles[p.ID] = &p
	}
	return f
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*model.Profile, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if d := f.delays[id]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	p, ok := f.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// fakeMessages — таблица messages в памяти.
type fakeMessages struct {
	mu      sync.Mutex
	rows    map[string]model.Message
	created []model.Message
	edits   map[string]string
	deleted []string
	listErr error
}

func newFakeMessages(ms ...model.Message) *fakeMessages {
	f := &fakeMessages{rows: make(map[string]model.Message), edits: make(map[string]string)}
	for _, m := range ms {
		f.rows[m.ID] = m
	}
	return f
}

func (f *fakeMessages) ListRecent(_ context.Context, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Message, 0, len(f.rows))
	for _, m := range f.rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (f *fakeMessages) GetReplyTarget(_ context.Context, id string) (*model.ReplyTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.ReplyTarget{Content: m.Content, UserID: m.UserID}, nil
}

// Create проставляет нулевой created_at, как это сделал бы DEFAULT колонки.
func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := *m
	if row.CreatedAt.IsZero() {
		row.CreatedAt = t0.Add(time.Duration(len(f.created)+1) * time.Hour)
	}
	f.rows[m.ID] = row
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeMessages) UpdateContent(_ context.Context, id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content = &content
	m.IsEdited = true
	f.rows[id] = m
	f.edits[id] = content
	return nil
}

func (f *fakeMessages) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMessages) Created() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.created...)
}

// fakeTyping — таблица typing_indicators в памяти, общая для нескольких сессий.
type fakeTyping struct {
	mu      sync.Mutex
	rows    map[string]model.TypingSignal
	order   []string
	upserts []model.TypingSignal

	// slowTrue задерживает upsert с флагом true, чтобы проверить порядок записей.
	slowTrue time.Duration
}

func newFakeTyping() *fakeTyping {
	return &fakeTyping{rows: make(map[string]model.TypingSignal)}
}

func (f *fakeTyping) Upsert(_ context.Context, s model.TypingSignal) error {
	if s.IsTyping && f.slowTrue > 0 {
		time.Sleep(f.slowTrue)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[s.UserID]; !ok {
		f.order = append(f.order, s.UserID)
	}
	f.rows[s.UserID] = s
	f.upserts = append(f.upserts, s)
	return nil
}

func (f *fakeTyping) ListTyping(_ context.Context, exclude string) ([]model.TypingSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TypingSignal
	for _, id := range f.order {
		s := f.rows[id]
		if s.IsTyping && id != exclude {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeTyping) Row(userID string) (model.TypingSignal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[userID]
	return s, ok
}

func (f *fakeTyping) Upserts() []model.TypingSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TypingSignal(nil), f.upserts...)
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	paths []string
	types []string
}

func (f *fakeUploader) Upload(_ context.Context, objectPath, contentType string, r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paths = append(f.paths, objectPath)
	f.types = append(f.types, contentType)
	return nil
}

func (f *fakeUploader) PublicURL(objectPath string) string {
	return "http://files.test/storage/chat-images/" + objectPath
}

type noticeRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (n *noticeRecorder) Notify(text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *noticeRecorder) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// change собирает конверт события для строки так же, как триггер.
func change(t *testing.T, typ model.ChangeType, m model.Message) model.ChangeEvent {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	ev := model.ChangeEvent{Table: model.TableMessages, Type: typ}
	if typ == model.ChangeDelete {
		ev.OldRecord = raw
	} else {
		ev.Record = raw
	}
	return ev
}

func msg(id, user, content string, at time.Time) model.Message {
	m := model.Message{ID: id, UserID: user, CreatedAt: at}
	if content != "" {
		m.Content = strPtr(content)
	}
	return m
}
