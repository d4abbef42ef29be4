package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations применяет встроенные SQL-миграции по порядку имён (001, 002, ...).
// Миграции идемпотентны (IF NOT EXISTS / OR REPLACE), поэтому выполняются при каждом старте.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
