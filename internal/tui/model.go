// Package tui — терминальный интерфейс комнаты чата.
package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/chatflow/internal/chat"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/objectstore"
)

const attachCommand = "/attach "

// roomChangedMsg приходит, когда экран комнаты мог измениться.
type roomChangedMsg struct{}

type actionDoneMsg struct{ err error }

// Model — bubbletea-модель экрана комнаты.
type Model struct {
	room    *chat.Room
	changes chan struct{}
	unsub   func()

	viewport viewport.Model
	input    textarea.Model
	width    int
	height   int

	view     chat.RoomView
	offsets  []int
	selected string
	editing  string
	pending  bool
	signOut  bool
}

// New собирает экран для уже открытой комнаты.
func New(room *chat.Room) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.CharLimit = chat.MaxMessageRunes
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	m := &Model{
		room:     room,
		changes:  make(chan struct{}, 1),
		viewport: viewport.New(80, 20),
		input:    ta,
	}
	m.unsub = room.Subscribe(func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	m.refresh()
	return m
}

// SignedOut — программа завершена клавишей выхода из аккаунта.
func (m *Model) SignedOut() bool { return m.signOut }

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return roomChangedMsg{}
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChange())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()

	case roomChangedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())

	case actionDoneMsg:
		if msg.err != nil {
			logger.Debugf("tui: action: %v", msg.err)
		}

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if handled {
			return m, tea.Batch(cmds...)
		}
		before := m.input.Value()
		var inputCmd tea.Cmd
		m.input, inputCmd = m.input.Update(msg)
		cmds = append(cmds, inputCmd)
		if after := m.input.Value(); after != before && m.editing == "" && !strings.HasPrefix(after, "/") {
			m.room.SetDraft(after)
		}
	}

	return m, tea.Batch(cmds...)
}

// handleKey обрабатывает клавиши комнаты; handled=false отдаёт клавишу textarea.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.close()
		return tea.Quit, true
	case "ctrl+q":
		m.signOut = true
		m.close()
		m.room.SignOut()
		return tea.Quit, true
	case "enter":
		return m.submit(), true
	case "up":
		m.moveSelection(-1)
		return nil, true
	case "down":
		m.moveSelection(1)
		return nil, true
	case "pgup":
		m.viewport.HalfViewUp()
		return nil, true
	case "pgdown":
		m.viewport.HalfViewDown()
		return nil, true
	case "ctrl+r":
		if sel, ok := m.selectedMessage(); ok {
			if err := m.room.Reply(sel.ID); err != nil {
				logger.Debugf("tui: reply: %v", err)
			}
		}
		return nil, true
	case "ctrl+e":
		if sel, ok := m.selectedMessage(); ok && m.room.IsOwn(sel) {
			m.editing = sel.ID
			m.input.SetValue(sel.Text())
			m.input.CursorEnd()
		}
		return nil, true
	case "ctrl+x":
		if sel, ok := m.selectedMessage(); ok && m.room.IsOwn(sel) {
			id := sel.ID
			m.selected = ""
			return m.action(func(ctx context.Context) error { return m.room.Delete(ctx, id) }), true
		}
		return nil, true
	case "ctrl+g":
		if sel, ok := m.selectedMessage(); ok && sel.ReplyTo != nil {
			if m.room.JumpTo(*sel.ReplyTo) {
				m.selected = *sel.ReplyTo
			} else {
				m.room.Notify("Original message is not loaded")
			}
		}
		return nil, true
	case "esc":
		switch {
		case m.editing != "":
			m.editing = ""
			m.input.SetValue(m.view.Draft)
		case m.view.ReplyTo != nil:
			m.room.CancelReply()
		case m.view.Attachment != "":
			m.room.Composer().ClearAttachment()
			m.refresh()
		default:
			m.selected = ""
			m.refresh()
		}
		return nil, true
	}
	return nil, false
}

func (m *Model) submit() tea.Cmd {
	value := m.input.Value()
	if m.editing != "" {
		id := m.editing
		m.editing = ""
		m.input.SetValue(m.view.Draft)
		return m.action(func(ctx context.Context) error { return m.room.Edit(ctx, id, value) })
	}
	if strings.HasPrefix(value, attachCommand) {
		path := strings.TrimSpace(strings.TrimPrefix(value, attachCommand))
		err := attachFile(m.room.Composer(), path)
		switch {
		case err == nil:
			m.input.SetValue(m.view.Draft)
		case !errors.Is(err, chat.ErrNotImage) && !errors.Is(err, chat.ErrImageTooLarge):
			logger.Errorf("tui: %v", err)
			m.room.Notify("Cannot open " + path)
		}
		m.refresh()
		return nil
	}
	m.room.SubmitText(value)
	m.pending = true
	m.input.Reset()
	return nil
}

func (m *Model) action(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return actionDoneMsg{err: fn(ctx)}
	}
}

// attachFile читает файл и передаёт его Composer, который проверяет тип и размер.
func attachFile(c *chat.Composer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tui.attach: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("tui.attach: %w", err)
	}
	a := chat.Attachment{Name: filepath.Base(path), Size: st.Size()}
	a.ContentType = objectstore.ContentTypeByExt(filepath.Ext(path))
	if st.Size() <= chat.MaxImageSize {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("tui.attach: %w", err)
		}
		a.Data = data
		if a.ContentType == "" {
			a.ContentType = http.DetectContentType(data)
		}
	}
	return c.Attach(a)
}

func (m *Model) moveSelection(delta int) {
	msgs := m.view.Messages
	if len(msgs) == 0 {
		return
	}
	idx := len(msgs)
	for i, msg := range msgs {
		if msg.ID == m.selected {
			idx = i
			break
		}
	}
	idx += delta
	switch {
	case idx < 0:
		idx = 0
	case idx >= len(msgs):
		m.selected = ""
		m.refresh()
		return
	}
	m.selected = msgs[idx].ID
	m.room.ScrollTo(idx)
}

func (m *Model) selectedMessage() (model.EnrichedMessage, bool) {
	if m.selected == "" {
		return model.EnrichedMessage{}, false
	}
	for _, msg := range m.view.Messages {
		if msg.ID == m.selected {
			return msg, true
		}
	}
	return model.EnrichedMessage{}, false
}

func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	m.input.SetWidth(m.width - 2)
	chrome := lipgloss.Height(renderHeader("", m.width)) + m.input.Height() + 3
	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
}

// refresh берёт снимок комнаты и перерисовывает список сообщений с её прокруткой.
func (m *Model) refresh() {
	m.view = m.room.View()
	if m.pending && !m.view.Uploading {
		m.pending = false
		if m.view.Draft != "" && m.input.Value() == "" {
			m.input.SetValue(m.view.Draft)
		}
	}
	content, offsets := renderMessages(m.view, m.room.Session().UserID, m.selected, m.viewport.Width)
	m.offsets = offsets
	m.viewport.SetContent(content)
	switch {
	case m.view.Scroll < 0 || len(offsets) == 0:
		m.viewport.GotoTop()
	case m.view.Scroll >= len(offsets)-1 && m.view.Highlight == "":
		m.viewport.GotoBottom()
	default:
		y := offsets[m.view.Scroll] - m.viewport.Height/2
		if y < 0 {
			y = 0
		}
		m.viewport.SetYOffset(y)
	}
}

func (m *Model) close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

func (m *Model) View() string {
	w := m.width
	if w == 0 {
		w = 80
	}
	parts := []string{renderHeader(m.view.Email, w), m.viewport.View()}
	if bar := renderReplyBar(m.view, w); bar != "" {
		parts = append(parts, bar)
	}
	parts = append(parts, renderStatus(m.view, m.editing != ""), m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
