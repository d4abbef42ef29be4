package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TypingRepository struct {
	pool *pgxpool.Pool
}

func NewTypingRepository(pool *pgxpool.Pool) *TypingRepository {
	return &TypingRepository{pool: pool}
}

// Upsert writes the caller's row; one row per user, last write wins.
func (r *TypingRepository) Upsert(ctx context.Context, s model.TypingSignal) error {
	defer logger.DeferLogDuration("typing.Upsert", time.Now())()
	query, args, err := psql.Insert("typing_indicators").
		Columns("user_id", "is_typing", "updated_at").
		Values(s.UserID, s.IsTyping, s.UpdatedAt).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("typingRepo.Upsert build: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("typingRepo.Upsert: %w", err)
	}
	return nil
}

// ListTyping returns every row flagged as typing except the caller's own.
// Staleness is not filtered here; the reader decides with its own clock.
func (r *TypingRepository) ListTyping(ctx context.Context, excludeUserID string) ([]model.TypingSignal, error) {
	defer logger.DeferLogDuration("typing.ListTyping", time.Now())()
	query, args, err := psql.Select("user_id", "is_typing", "updated_at").
		From("typing_indicators").
		Where(sq.Eq{"is_typing": true}).
		Where(sq.NotEq{"user_id": excludeUserID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("typingRepo.ListTyping build: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("typingRepo.ListTyping query: %w", err)
	}
	defer rows.Close()

	var out []model.TypingSignal
	for rows.Next() {
		var s model.TypingSignal
		if err := rows.Scan(&s.UserID, &s.IsTyping, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("typingRepo.ListTyping scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("typingRepo.ListTyping rows: %w", err)
	}
	return out, nil
}
