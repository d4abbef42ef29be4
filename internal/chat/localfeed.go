package chat

import (
	"context"
	"encoding/json"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
)

// Publisher принимает события изменений; *feed.Bus ему удовлетворяет.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent)
}

// MessageTable — таблица messages целиком: чтение, запись и точечный поиск.
type MessageTable interface {
	MessageReader
	MessageWriter
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

// PublishingMessages после каждой успешной записи публикует событие изменения,
// как это сделал бы триггер в БД. Нужен драйверу memory: без него свои сообщения
// не вернутся через фид.
type PublishingMessages struct {
	MessageTable
	pub Publisher
}

func NewPublishingMessages(t MessageTable, pub Publisher) *PublishingMessages {
	return &PublishingMessages{MessageTable: t, pub: pub}
}

func (p *PublishingMessages) Create(ctx context.Context, m *model.Message) error {
	if err := p.MessageTable.Create(ctx, m); err != nil {
		return err
	}
	p.publishRow(ctx, model.ChangeInsert, m.ID, m)
	return nil
}

func (p *PublishingMessages) UpdateContent(ctx context.Context, id, content string) error {
	if err := p.MessageTable.UpdateContent(ctx, id, content); err != nil {
		return err
	}
	p.publishRow(ctx, model.ChangeUpdate, id, nil)
	return nil
}

func (p *PublishingMessages) Delete(ctx context.Context, id string) error {
	if err := p.MessageTable.Delete(ctx, id); err != nil {
		return err
	}
	old, _ := json.Marshal(map[string]string{"id": id})
	p.pub.Publish(ctx, model.ChangeEvent{Table: model.TableMessages, Type: model.ChangeDelete, Key: id, OldRecord: old})
	return nil
}

// publishRow перечитывает строку, чтобы в событие попали значения, проставленные БД
// (created_at, is_edited). Если перечитать не удалось, уходит fallback.
func (p *PublishingMessages) publishRow(ctx context.Context, typ model.ChangeType, id string, fallback *model.Message) {
	row, err := p.GetByID(ctx, id)
	if err != nil {
		if fallback == nil {
			logger.Errorf("localfeed: reread %s: %v", id, err)
			return
		}
		row = fallback
	}
	rec, err := json.Marshal(row)
	if err != nil {
		logger.Errorf("localfeed: encode %s: %v", id, err)
		return
	}
	p.pub.Publish(ctx, model.ChangeEvent{Table: model.TableMessages, Type: typ, Record: rec})
}

// PublishingTyping публикует событие после каждого upsert в typing_indicators.
type PublishingTyping struct {
	TypingStore
	pub Publisher
}

func NewPublishingTyping(t TypingStore, pub Publisher) *PublishingTyping {
	return &PublishingTyping{TypingStore: t, pub: pub}
}

func (p *PublishingTyping) Upsert(ctx context.Context, s model.TypingSignal) error {
	if err := p.TypingStore.Upsert(ctx, s); err != nil {
		return err
	}
	rec, err := json.Marshal(s)
	if err != nil {
		logger.Errorf("localfeed: encode typing %s: %v", s.UserID, err)
		return nil
	}
	p.pub.Publish(ctx, model.ChangeEvent{Table: model.TableTyping, Type: model.ChangeUpdate, Key: s.UserID, Record: rec})
	return nil
}
