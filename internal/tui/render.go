package tui

import (
	"fmt"
	"strings"

	"github.com/chatflow/internal/chat"
	"github.com/chatflow/internal/model"
)

const (
	unknownAuthor    = "User"
	imagePlaceholder = "[image]"
)

func authorName(m model.EnrichedMessage) string {
	if n := m.AuthorName(); n != "" {
		return n
	}
	return unknownAuthor
}

// snippet — однострочное превью сообщения для строки ответа и панели ответа.
func snippet(content *string, hasImage bool, width int) string {
	text := ""
	if content != nil {
		text = strings.Join(strings.Fields(*content), " ")
	}
	if text == "" && hasImage {
		text = imagePlaceholder
	}
	if width > 3 && len([]rune(text)) > width {
		text = string([]rune(text)[:width-3]) + "..."
	}
	return text
}

// renderMessage рисует сообщение: строка ответа (если есть), затем "HH:MM name: text".
func renderMessage(m model.EnrichedMessage, own, selected, highlighted bool, width int) string {
	var b strings.Builder
	if m.Replied != nil {
		name := m.Replied.Username
		if name == "" {
			name = unknownAuthor
		}
		b.WriteString(replyStyle.Render("↳ " + name + ": " + snippet(m.Replied.Content, false, width-8)))
		b.WriteString("\n")
	}

	nameStyle := otherNameStyle
	if own {
		nameStyle = ownNameStyle
	}
	b.WriteString(mutedStyle.Render(m.CreatedAt.Local().Format("15:04")))
	b.WriteString(" ")
	b.WriteString(nameStyle.Render(authorName(m)))
	b.WriteString(": ")
	b.WriteString(m.Text())
	if m.HasImage() {
		if m.Text() != "" {
			b.WriteString(" ")
		}
		b.WriteString(mutedStyle.Render(imagePlaceholder + " " + *m.ImageURL))
	}
	if m.IsEdited {
		b.WriteString(mutedStyle.Render(" (edited)"))
	}

	style := plainStyle
	switch {
	case highlighted:
		style = highlightStyle
	case selected:
		style = selectedStyle
	}
	if width > 4 {
		style = style.Width(width - 2)
	}
	return style.Render(b.String())
}

func renderMessages(v chat.RoomView, selfID, selected string, width int) (string, []int) {
	if v.State != chat.StateReady {
		return mutedStyle.Render("Loading messages..."), nil
	}
	if len(v.Messages) == 0 {
		return mutedStyle.Render("No messages yet\nBe the first to say hello!"), nil
	}
	var b strings.Builder
	offsets := make([]int, len(v.Messages))
	line := 0
	for i, m := range v.Messages {
		offsets[i] = line
		s := renderMessage(m, m.UserID == selfID, m.ID == selected, m.ID == v.Highlight, width)
		b.WriteString(s)
		b.WriteString("\n")
		line += strings.Count(s, "\n") + 1
	}
	return b.String(), offsets
}

func renderHeader(email string, width int) string {
	left := "chatflow"
	right := email + "  ctrl+q sign out"
	gap := width - len([]rune(left)) - len([]rune(right)) - 2
	if gap < 1 {
		gap = 1
	}
	return headerStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func renderReplyBar(v chat.RoomView, width int) string {
	if v.ReplyTo == nil {
		return ""
	}
	r := v.ReplyTo
	return barStyle.Render(fmt.Sprintf("replying to %s: %s  (esc to cancel)",
		authorName(*r), snippet(r.Content, r.HasImage(), width-30)))
}

func renderStatus(v chat.RoomView, editing bool) string {
	var parts []string
	if v.Typing != "" {
		parts = append(parts, typingStyle.Render(v.Typing+"..."))
	}
	if v.Attachment != "" {
		a := "attached: " + v.Attachment
		if v.Uploading {
			a = "uploading " + v.Attachment + "..."
		}
		parts = append(parts, mutedStyle.Render(a))
	}
	if editing {
		parts = append(parts, mutedStyle.Render("editing message (enter to save, esc to cancel)"))
	}
	if v.Notice != "" {
		parts = append(parts, noticeStyle.Render(v.Notice))
	}
	return strings.Join(parts, "  ")
}
