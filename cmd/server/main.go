// MediaTree Server
//
// Features:
// - Hierarchical VFS over PostgreSQL with a closure-table namespace
// - Content-addressed bucketed file store
// - Media probing and typed metadata side tables
// - yt-dlp ingestion pipeline with SSE progress events
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/api"
	"github.com/mediatree/mediatree/internal/auth"
	"github.com/mediatree/mediatree/internal/config"
	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/events"
	"github.com/mediatree/mediatree/internal/ingest"
	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/metrics"
	"github.com/mediatree/mediatree/internal/vfs"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("MediaTree Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the content store
	files, err := content.NewStore(cfg.DataDir)
	if err != nil {
		logging.Fatal("content store init failed", zap.Error(err))
	}

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := vfs.New(cfg.DatabaseURL, files)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		logging.Fatal("schema init failed", zap.Error(err))
	}
	rootID, err := store.EnsureRoot(ctx)
	if err != nil {
		logging.Fatal("root init failed", zap.Error(err))
	}
	logging.Info("namespace ready", zap.String("root", rootID.String()))

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	// Initialize the ingestion worker
	ytdl, err := ingest.NewYtdl(cfg.YtdlDir, cfg.YtdlSocketTimeout)
	if err != nil {
		logging.Fatal("downloader init failed", zap.Error(err))
	}
	worker := ingest.NewWorker(store, ytdl, broadcaster)
	worker.Start(ctx)
	logging.Info("ingestion worker started", zap.String("dir", cfg.YtdlDir))

	// Initialize auth
	gate := auth.NewTokenGate(cfg.AuthToken, cfg.AdminToken)

	srv := api.NewServer(store, worker, gate, broadcaster)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	// Let the in-flight download finish its bookkeeping
	select {
	case <-worker.Done():
	case <-time.After(5 * time.Second):
	}
	logging.Info("shutdown complete")
}
