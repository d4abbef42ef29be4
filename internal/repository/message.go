package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageCols = `id, user_id, content, image_url, reply_to, is_edited, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.UserID, &m.Content, &m.ImageURL, &m.ReplyTo, &m.IsEdited, &m.CreatedAt)
}

// ListRecent returns the newest limit messages in ascending created_at order.
func (r *MessageRepository) ListRecent(ctx context.Context, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRecent", time.Now())()
	newest := psql.Select(messageCols).
		From("messages").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	query, args, err := psql.Select(messageCols).
		FromSelect(newest, "recent").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent build: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListRecent scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetReplyTarget fetches only what a reply preview needs.
func (r *MessageRepository) GetReplyTarget(ctx context.Context, id string) (*model.ReplyTarget, error) {
	defer logger.DeferLogDuration("msg.GetReplyTarget", time.Now())()
	t := &model.ReplyTarget{}
	err := r.pool.QueryRow(ctx,
		`SELECT content, user_id FROM messages WHERE id = $1`, id,
	).Scan(&t.Content, &t.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetReplyTarget: %w", err)
	}
	return t, nil
}

// Create inserts a message. A zero CreatedAt leaves the timestamp to the database.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	cols := []string{"id", "user_id", "content", "image_url", "reply_to", "is_edited"}
	vals := []any{m.ID, m.UserID, m.Content, m.ImageURL, m.ReplyTo, m.IsEdited}
	if !m.CreatedAt.IsZero() {
		cols = append(cols, "created_at")
		vals = append(vals, m.CreatedAt)
	}
	query, args, err := psql.Insert("messages").Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return fmt.Errorf("msgRepo.Create build: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// UpdateContent replaces the content and marks the message as edited.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	query, args, err := psql.Update("messages").
		Set("content", content).
		Set("is_edited", true).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent build: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
