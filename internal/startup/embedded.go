package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatflow/internal/config"
	"github.com/chatflow/internal/logger"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

// StartEmbeddedPostgres поднимает локальный PostgreSQL для режима -dev (внешняя БД не нужна)
// и подменяет cfg.Database.URL на его адрес.
func StartEmbeddedPostgres(cfg *config.Config, port uint32) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		user     = "chatflow"
		password = "chatflow_secret"
		database = "chatflow"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatflow-pg-runtime")).
			Logger(logger.Writer("postgres")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
