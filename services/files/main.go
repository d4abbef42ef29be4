// Микросервис объектного хранилища картинок: загрузка в бакет и публичная раздача.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatflow/internal/config"
	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/middleware"
	"github.com/chatflow/internal/objectstore"
)

func main() {
	logger.SetPrefix("files")
	cfg := config.Load()
	metrics.Register()

	publicBase := cfg.Storage.PublicBaseURL
	if publicBase == "" {
		publicBase = "http://localhost" + cfg.ServerAddr
	}
	store := objectstore.NewFSStore(cfg.Storage.UploadDir, cfg.Storage.Bucket, publicBase, cfg.Storage.MaxUploadSize)
	logger.Infof("starting files service: upload_dir=%s bucket=%s max_upload_bytes=%d",
		store.Dir, store.Bucket, store.MaxSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	store.Routes(r)

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: r, ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout}
	go func() {
		logger.Infof("fileserver listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("fileserver: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("fileserver shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("fileserver shutdown: %v", err)
	}
	logger.Info("fileserver stopped")
}
