package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/live-match-sync/internal/backend"
	"github.com/DoyleJ11/live-match-sync/internal/batch"
	"github.com/DoyleJ11/live-match-sync/internal/config"
	"github.com/DoyleJ11/live-match-sync/internal/conn"
	"github.com/DoyleJ11/live-match-sync/internal/control"
	"github.com/DoyleJ11/live-match-sync/internal/httpapi"
	"github.com/DoyleJ11/live-match-sync/internal/hub"
	"github.com/DoyleJ11/live-match-sync/internal/store"
	"github.com/DoyleJ11/live-match-sync/internal/view"
)

// components builds views and desks on the shared connection.
type components struct {
	cfg     config.Config
	manager *conn.Manager
	api     *backend.Client
	log     *zap.Logger
}

func (c *components) NewView(ctx context.Context, matchID string) *view.View {
	return view.New(ctx, view.Config{
		MatchID:       matchID,
		Source:        c.manager.Acquire(),
		Fetcher:       c.api,
		Gone:          backend.IsNotFound,
		AlertDuration: c.cfg.AlertDuration,
		Logger:        c.log,
	})
}

func (c *components) NewDesk(ctx context.Context, matchID string) *control.Desk {
	b := batch.New(ctx, batch.Config{
		Attempts:    c.cfg.RetryAttempts,
		BaseDelay:   c.cfg.RetryBaseDelay,
		MaxDelay:    c.cfg.RetryMaxDelay,
		MaxInFlight: c.cfg.MaxInFlight,
		Retryable:   control.Retryable,
		RetryAfter:  control.RetryAfter,
	}, c.log.With(zap.String("match_id", matchID)))

	return control.New(control.Config{
		MatchID: matchID,
		View:    c.NewView(ctx, matchID),
		API:     c.api,
		Batcher: b,
		Windows: control.Windows{
			Kill:   c.cfg.KillWindow,
			Death:  c.cfg.DeathWindow,
			Points: c.cfg.PointsWindow,
			Roster: c.cfg.RosterWindow,
		},
		Logger: c.log,
	})
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := backend.NewClient(cfg.BackendURL,
		backend.WithToken(cfg.BackendToken),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		backend.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("backend client", zap.Error(err))
	}

	header := http.Header{}
	if cfg.BackendToken != "" {
		header.Set("Authorization", "Bearer "+cfg.BackendToken)
	}
	manager := conn.NewManager(conn.WebsocketDialer{URL: cfg.EventStreamURL, Header: header, ReadLimit: 1 << 20}, conn.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		DialTimeout:    cfg.RequestTimeout,
		Logger:         logger,
	})

	var prefs store.Preferences = store.NewMemory()
	if cfg.DatabaseURL != "" {
		pg, err := store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("preferences store", zap.Error(err))
		}
		defer pg.Close()
		prefs = pg
	}

	// The hub outlives the signal context so shutdown can flush desks.
	h := hub.NewHub(context.Background(), &components{cfg: cfg, manager: manager, api: api, log: logger})

	// router over the hub and theme store
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, prefs, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	h.Inbox() <- hub.ShutdownHub{Done: done}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("hub shutdown timed out")
	}
	logger.Info("stopped", zap.Int("open_connections", manager.Refs()))
}
