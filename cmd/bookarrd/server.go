package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	v1 "github.com/vmunix/bookarr/internal/api/v1"
	"github.com/vmunix/bookarr/internal/config"
	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/extractor"
	"github.com/vmunix/bookarr/internal/migrations"
	"github.com/vmunix/bookarr/internal/organizer"
	"github.com/vmunix/bookarr/internal/processor"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
	"github.com/vmunix/bookarr/internal/server"
)

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 200 { // Only capture first WriteHeader call
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	for _, dir := range []string{filepath.Dir(cfg.Database.Path), cfg.Downloads.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Database.Path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// === Stores ===
	requestStore := request.NewStore(db)
	historyStore := download.NewStore(db)

	// === Download client (optional; direct downloads work without one) ===
	var client download.Downloader
	clientType := download.Client(cfg.Downloaders.Type)
	switch clientType {
	case download.ClientQBittorrent:
		client = download.NewQBittorrentClient(
			cfg.Downloaders.QBittorrent.URL,
			cfg.Downloaders.QBittorrent.Username,
			cfg.Downloaders.QBittorrent.Password,
			logger,
		)
	case download.ClientSABnzbd:
		client = download.NewSABnzbdClient(
			cfg.Downloaders.SABnzbd.URL,
			cfg.Downloaders.SABnzbd.APIKey,
			cfg.Downloaders.SABnzbd.Category,
			logger,
		)
	}

	var mapping download.PathMapping
	if cfg.Downloaders.PathMapping.Enabled {
		mapping = download.PathMapping{
			RemotePath: cfg.Downloaders.PathMapping.RemotePath,
			LocalPath:  cfg.Downloaders.PathMapping.LocalPath,
		}
	}

	// === Components ===
	bus := events.NewBus(logger)
	q := queue.New(256, logger)

	ext := extractor.New(cfg.Ebook.BaseURL, cfg.Ebook.PreferredFormat, cfg.Ebook.FlareSolverrURL, logger)
	direct := processor.NewDirect(requestStore, historyStore, ext, q, bus, cfg.Downloads.Dir, logger)

	var monitor *processor.Monitor
	if client != nil {
		monitor = processor.NewMonitor(requestStore, historyStore, client, clientType, q, bus,
			mapping, cfg.Monitor.PollInterval, cfg.Monitor.MaxAge, logger)
	}

	sweeper := processor.NewSweeper(requestStore, historyStore, client, q, mapping,
		cfg.Downloads.ClientDir, cfg.Sweep.BatchSize, logger)
	org := organizer.New(requestStore, historyStore, bus,
		cfg.Library.AudiobookRoot, cfg.Library.EbookRoot, logger)

	// === HTTP ===
	mux := http.NewServeMux()
	api := v1.New(requestStore, historyStore, client, clientType, q, sweeper, version, logger)
	api.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("server starting",
		"addr", addr,
		"database", cfg.Database.Path,
		"download_client", cfg.Downloaders.Type,
		"log_level", cfg.Server.LogLevel,
	)

	runner := server.NewRunner(server.Config{
		Addr:          addr,
		Workers:       4,
		SweepInterval: time.Duration(cfg.Sweep.IntervalMinutes) * time.Minute,
	}, q, direct, monitor, sweeper, org, bus, logRequests(mux, logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
