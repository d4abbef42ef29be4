package model

import (
	"encoding/json"
	"fmt"
)

// Таблицы, которые публикуют события изменений.
const (
	TableMessages = "messages"
	TableProfiles = "profiles"
	TableTyping   = "typing_indicators"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent — конверт события изменения, одинаковый для всех транспортов
// (payload NOTIFY, сообщение Redis, кадр WebSocket).
// Record — новая строка для INSERT/UPDATE, OldRecord — старая для DELETE.
// Key передаётся вместо Record, если строка не поместилась в payload NOTIFY.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      ChangeType      `json:"type"`
	Key       string          `json:"key,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// Truncated — строку нужно перечитать по Key.
func (e ChangeEvent) Truncated() bool {
	return e.Type != ChangeDelete && len(e.Record) == 0 && e.Key != ""
}

// DecodeMessage декодирует строку из события. Для DELETE есть только старая строка,
// и обычно в ней заполнен лишь id.
func (e ChangeEvent) DecodeMessage() (Message, error) {
	raw := e.Record
	if e.Type == ChangeDelete {
		raw = e.OldRecord
	}
	var m Message
	if len(raw) == 0 {
		if e.Key == "" {
			return m, fmt.Errorf("model.DecodeMessage: %s event without row", e.Type)
		}
		m.ID = e.Key
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("model.DecodeMessage: %w", err)
	}
	return m, nil
}
