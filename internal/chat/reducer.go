package chat

import "github.com/chatflow/internal/model"

// Event — изменение в том виде, который нужен списку: обогащённая строка для
// вставки и обновления, только id для удаления.
type Event struct {
	Type    model.ChangeType
	Message model.EnrichedMessage
}

// Apply возвращает список после ev, исходный срез не меняется.
//
//   - INSERT нового id встаёт после последнего сообщения с created_at <= своего; при доставке
//     в порядке коммитов это хвост. Уже известный id заменяется.
//   - UPDATE заменяет запись с тем же id на её месте; неизвестный id игнорируется.
//   - DELETE удаляет запись; неизвестный id игнорируется.
func Apply(list []model.EnrichedMessage, ev Event) []model.EnrichedMessage {
	idx := indexOf(list, ev.Message.ID)
	switch ev.Type {
	case model.ChangeInsert:
		if idx >= 0 {
			return replaceAt(list, idx, ev.Message)
		}
		return insertSorted(list, ev.Message)
	case model.ChangeUpdate:
		if idx < 0 {
			return list
		}
		return replaceAt(list, idx, ev.Message)
	case model.ChangeDelete:
		if idx < 0 {
			return list
		}
		out := make([]model.EnrichedMessage, 0, len(list)-1)
		out = append(out, list[:idx]...)
		return append(out, list[idx+1:]...)
	}
	return list
}

func indexOf(list []model.EnrichedMessage, id string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func replaceAt(list []model.EnrichedMessage, idx int, m model.EnrichedMessage) []model.EnrichedMessage {
	out := make([]model.EnrichedMessage, len(list))
	copy(out, list)
	out[idx] = m
	return out
}

func insertSorted(list []model.EnrichedMessage, m model.EnrichedMessage) []model.EnrichedMessage {
	pos := len(list)
	for pos > 0 && list[pos-1].CreatedAt.After(m.CreatedAt) {
		pos--
	}
	out := make([]model.EnrichedMessage, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, m)
	return append(out, list[pos:]...)
}
