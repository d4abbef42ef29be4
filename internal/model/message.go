package model

import "time"

// Message — строка таблицы messages.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   *string   `json:"content"`
	ImageURL  *string   `json:"image_url"`
	ReplyTo   *string   `json:"reply_to"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
}

// Text возвращает текст или "", если content = NULL.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasImage — у сообщения есть вложение-картинка.
func (m *Message) HasImage() bool {
	return m.ImageURL != nil && *m.ImageURL != ""
}

// ReplyTarget — поля исходного сообщения, нужные для превью ответа.
type ReplyTarget struct {
	Content *string `json:"content"`
	UserID  string  `json:"user_id"`
}

// ReplyPreview — короткий вид исходного сообщения над ответом.
type ReplyPreview struct {
	Content  *string `json:"content"`
	Username string  `json:"username,omitempty"`
}

// EnrichedMessage — сообщение вместе с автором и, для ответов, превью исходного.
type EnrichedMessage struct {
	Message
	Author  *Profile      `json:"profile,omitempty"`
	Replied *ReplyPreview `json:"replied_message,omitempty"`
}

// AuthorName — username автора или "" для неизвестного.
func (m *EnrichedMessage) AuthorName() string {
	if m.Author == nil {
		return ""
	}
	return m.Author.Username
}
