// Relay change feed: LISTEN в Postgres, раздача подписчикам по WebSocket и, при наличии, в Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatflow/internal/config"
	"github.com/chatflow/internal/feed"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/middleware"
	"github.com/chatflow/internal/model"
	"github.com/chatflow/internal/startup"
	"github.com/chatflow/internal/ws"
)

func main() {
	logger.SetPrefix("realtime")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	maxConns := flag.Int("max-conns", 10000, "maximum websocket subscribers")
	flag.Parse()

	logger.Info("starting realtime relay")
	cfg := config.Load()
	metrics.Register()

	if *dev {
		db, err := startup.StartEmbeddedPostgres(cfg, 5433)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := startup.RunMigrations(ctx, pool); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	source, err := feed.NewPGFeed(ctx, pool)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(*maxConns)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	handle := hub.Broadcast
	if cfg.Redis.URL != "" {
		cli, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer cli.Close()
		pub := feed.NewRedisPublisher(cli)
		handle = func(ctx context.Context, ev model.ChangeEvent) {
			hub.Broadcast(ctx, ev)
			if err := pub.Publish(ctx, ev); err != nil {
				logger.Errorf("redis publish %s: %v", ev.Table, err)
			}
		}
		logger.Info("republishing change feed to redis")
	}

	var subs []feed.Subscription
	for _, table := range []string{model.TableMessages, model.TableProfiles, model.TableTyping} {
		sub, err := source.Subscribe(ctx, table, handle)
		if err != nil {
			logger.Errorf("subscribe %s: %v", table, err)
			os.Exit(1)
		}
		subs = append(subs, sub)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "OPTIONS"},
		MaxAge:         300,
	}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.NewHandler(hub, cfg.CORSAllowedOrigins).ServeWS)

	srv := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("relay listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	for _, s := range subs {
		s.Unsubscribe()
	}
	if err := source.Close(); err != nil {
		logger.Errorf("feed close: %v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("relay stopped")
}
