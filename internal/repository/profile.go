package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetByID", time.Now())()
	p := &model.Profile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, avatar_url FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Username, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetByID: %w", err)
	}
	return p, nil
}

// Ensure creates the profile if it does not exist yet; an existing row is left untouched.
// Used by -dev mode, where there is no external auth service to provision users.
func (r *ProfileRepository) Ensure(ctx context.Context, p *model.Profile) error {
	defer logger.DeferLogDuration("profile.Ensure", time.Now())()
	query, args, err := psql.Insert("profiles").
		Columns("id", "username", "avatar_url").
		Values(p.ID, p.Username, p.AvatarURL).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("profileRepo.Ensure build: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("profileRepo.Ensure: %w", err)
	}
	return nil
}
