package model

import "time"

// TypingStaleAfter — сколько сигнал набора считается живым без обновления.
const TypingStaleAfter = 5 * time.Second

// TypingSignal — строка typing_indicators (одна на пользователя, пишется upsert).
type TypingSignal struct {
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active — сигнал ещё действителен на момент now.
func (s TypingSignal) Active(now time.Time) bool {
	return s.IsTyping && now.Sub(s.UpdatedAt) < TypingStaleAfter
}
