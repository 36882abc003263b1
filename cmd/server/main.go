// Filecove Server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - File upload/rename/move/copy/delete endpoints
// - Trash with delayed purge
// - SSE real-time change events
// - Thumbnail generation with EXIF-aware rotation
// - Bulk ingest from server-local directories
// - Local or S3 content storage
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/api"
	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/events"
	"github.com/filecove/filecove/internal/ingest"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/preview"
	"github.com/filecove/filecove/internal/storage"
	"github.com/filecove/filecove/internal/storage/local"
	"github.com/filecove/filecove/internal/watch"
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

	logging.Info("Filecove Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	metaStore, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer metaStore.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := metaStore.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Initialize auth
	db := metaStore.DB()
	authHandler := auth.New(db, cfg.JWTSecret)
	if err := authHandler.EnsureDefaultAdmin(ctx); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}

	// Initialize OIDC provider (optional)
	if cfg.OIDCIssuerURL != "" {
		oidcProvider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			AdminClaim:   cfg.OIDCAdminClaim,
			AdminValue:   cfg.OIDCAdminValue,
		}, authHandler)
		if err != nil {
			logging.Fatal("OIDC provider init failed", zap.Error(err))
		}
		if oidcProvider != nil {
			authHandler.SetOIDCProvider(oidcProvider)
		}
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	// Open content storage
	backend, err := storage.Open(ctx, *cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer backend.Close()
	logging.Info("storage backend ready", zap.String("type", backend.Type()))

	// Watch the local root for out-of-band changes. Only the local backend
	// has a filesystem to watch.
	if lb, ok := backend.(*local.LocalBackend); ok && cfg.WatchEnabled {
		watcher, err := watch.New(lb.Root(), metaStore, broadcaster, 0)
		if err != nil {
			logging.Error("filesystem watcher init failed", zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Close()
		}
	}

	// Thumbnail workers
	previews := preview.NewProcessor(metaStore, backend, cfg.PreviewWorkers, cfg.ThumbnailSize)
	previews.Start(ctx)
	defer previews.Stop()

	// Backfill thumbnails for images uploaded before the workers existed
	go previews.ProcessExisting(ctx)

	// Bulk ingest
	ingestor := ingest.New(metaStore, backend, broadcaster, cfg.IngestWorkers)

	// Create API server
	srv := api.NewServer(metaStore, backend, authHandler, broadcaster, previews, ingestor, cfg.MaxUploadSize)

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

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
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
				metaStore.UpdateConnectionMetrics()
			}
		}
	}()

	// Start periodic maintenance: trash auto-purge (30-day retention) and
	// revoked-token pruning
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := srv.PurgeExpired(ctx, 30*24*time.Hour); err != nil {
					logging.Error("trash auto-purge failed", zap.Error(err))
				}
				if n, err := authHandler.PruneRevokedTokens(ctx); err != nil {
					logging.Error("token prune failed", zap.Error(err))
				} else if n > 0 {
					logging.Info("pruned expired token revocations", zap.Int64("count", n))
				}
			}
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
