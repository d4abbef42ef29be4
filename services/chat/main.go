// Терминальный клиент комнаты чата.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatflow/internal/chat"
	"github.com/chatflow/internal/config"
	"github.com/chatflow/internal/feed"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/objectstore"
	"github.com/chatflow/internal/repository"
	"github.com/chatflow/internal/startup"
	"github.com/chatflow/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run() error {
	logger.SetPrefix("chat")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	userID := flag.String("user", "", "signed-in user id (overrides CHAT_USER_ID)")
	email := flag.String("email", "", "signed-in user email (overrides CHAT_EMAIL)")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.Parse()

	cfg := config.Load()
	if *userID != "" {
		cfg.Session.UserID = *userID
	}
	if *email != "" {
		cfg.Session.Email = *email
	}
	if cfg.Session.UserID == "" {
		return fmt.Errorf("no session: set CHAT_USER_ID or pass -user")
	}

	// TUI владеет терминалом, поэтому логи идут в файл.
	closeLog, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Infof("starting chat client: user=%s feed=%s", cfg.Session.UserID, cfg.Feed.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *dev {
		var db *embeddedpostgres.EmbeddedPostgres
		db, err = startup.StartEmbeddedPostgres(cfg, 5433)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
	if err != nil {
		return err
	}
	defer pool.Close()

	profiles := repository.NewProfileRepository(pool)
	if *dev {
		if err := startup.RunMigrations(ctx, pool); err != nil {
			return err
		}
		if err := profiles.Ensure(ctx, &model.Profile{ID: cfg.Session.UserID, Username: defaultUsername(cfg.Session)}); err != nil {
			return err
		}
	}

	if *metricsAddr != "" {
		metrics.Register()
		go serveMetrics(*metricsAddr)
	}

	changes, err := openFeed(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer changes.Close()

	msgs := repository.NewMessageRepository(pool)
	var (
		messages chat.MessageTable = msgs
		typing   chat.TypingStore  = repository.NewTypingRepository(pool)
	)
	// Шина в процессе не слушает БД: свои записи публикуем в неё сами.
	if bus, ok := changes.(*feed.Bus); ok {
		messages = chat.NewPublishingMessages(messages, bus)
		typing = chat.NewPublishingTyping(typing, bus)
	}
	room := chat.NewRoom(chat.Session{UserID: cfg.Session.UserID, Email: cfg.Session.Email}, chat.Backend{
		Messages: messages,
		Replies:  msgs,
		Profiles: profiles,
		Typing:   typing,
		Uploader: openObjectStore(cfg),
	}, chat.SystemClock{}, cfg.HistoryLimit, func() {
		logger.Infof("user %s signed out", cfg.Session.UserID)
	})
	defer room.Close()

	// Загрузка истории идёт в фоне, экран сразу показывает состояние "loading".
	go func() {
		if err := room.Open(ctx, changes); err != nil {
			logger.Errorf("open room: %v", err)
		}
	}()

	screen := tui.New(room)
	if _, err := tea.NewProgram(screen, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if screen.SignedOut() {
		fmt.Println("signed out")
	}
	return nil
}

func openFeed(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (feed.Feed, error) {
	switch cfg.Feed.Driver {
	case config.FeedRedis:
		cli, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			return nil, err
		}
		return feed.NewRedisFeed(ctx, cli)
	case config.FeedWS:
		return feed.NewWSFeed(ctx, cfg.Feed.RealtimeURL, model.TableMessages, model.TableTyping)
	case config.FeedMemory:
		logger.Info("feed: in-process bus, only this client's own writes are delivered")
		return feed.NewBus(), nil
	default:
		return feed.NewPGFeed(ctx, pool)
	}
}

func openObjectStore(cfg *config.Config) objectstore.Store {
	if cfg.Storage.FileServiceURL != "" {
		return objectstore.NewHTTPStore(cfg.Storage.FileServiceURL, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
	}
	return objectstore.NewFSStore(cfg.Storage.UploadDir, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, cfg.Storage.MaxUploadSize)
}

func serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Errorf("metrics server: %v", err)
	}
}

func defaultUsername(s config.SessionConfig) string {
	if name, _, ok := strings.Cut(s.Email, "@"); ok && name != "" {
		return name
	}
	return s.UserID
}
