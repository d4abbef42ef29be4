package chat

import (
	"context"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
)

// ReplyLookup читает текст и автора исходного сообщения.
type ReplyLookup interface {
	GetReplyTarget(ctx context.Context, id string) (*model.ReplyTarget, error)
}

// Enricher дополняет строки профилем автора и превью ответа.
type Enricher struct {
	profiles *ProfileCache
	replies  ReplyLookup
}

func NewEnricher(profiles *ProfileCache, replies ReplyLookup) *Enricher {
	return &Enricher{profiles: profiles, replies: replies}
}

// Enrich не возвращает ошибок: неизвестный автор даёт Author = nil, любая ошибка
// при разборе ответа даёт Replied = nil, само сообщение возвращается всегда.
func (e *Enricher) Enrich(ctx context.Context, m model.Message) model.EnrichedMessage {
	out := model.EnrichedMessage{Message: m}

	author, err := e.profiles.Get(ctx, m.UserID)
	if err != nil {
		logger.Errorf("enrich %s: author %s: %v", m.ID, m.UserID, err)
	}
	out.Author = author

	if m.ReplyTo != nil && *m.ReplyTo != "" {
		out.Replied = e.replyPreview(ctx, m.ID, *m.ReplyTo)
	}
	return out
}

func (e *Enricher) replyPreview(ctx context.Context, id, targetID string) *model.ReplyPreview {
	target, err := e.replies.GetReplyTarget(ctx, targetID)
	if err != nil || target == nil {
		metrics.ReplyPreviewMisses.Inc()
		logger.Debugf("enrich %s: reply target %s unavailable: %v", id, targetID, err)
		return nil
	}
	preview := &model.ReplyPreview{Content: target.Content}
	author, err := e.profiles.Get(ctx, target.UserID)
	if err != nil {
		logger.Debugf("enrich %s: reply author %s: %v", id, target.UserID, err)
	}
	if author != nil {
		preview.Username = author.Username
	}
	return preview
}
