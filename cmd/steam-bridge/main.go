package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/steam-bridge/internal/api"
	"github.com/Sternrassler/steam-bridge/internal/app"
	"github.com/Sternrassler/steam-bridge/internal/config"
	"github.com/Sternrassler/steam-bridge/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		mainLogger := logging.NewLogger("main")
		mainLogger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)
	logger := logging.NewLogger("main")

	if cfg.LogLevel != logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctab, err := startScheduler(a, cfg.FlushSchedule, logger)
	if err != nil {
		return err
	}
	defer ctab.Shutdown()

	srv := newHTTPServer(cfg, a)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("user_agent", cfg.UserAgent).Msg("Starting Steam bridge")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newHTTPServer(cfg *config.Config, a *app.App) *http.Server {
	server := api.New(a.Steam, a.Store, api.Options{
		AdminToken: cfg.AdminToken,
		Tracker:    a.Tracker,
	})
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// startScheduler registers the periodic cache jobs. flushSchedule may be empty.
func startScheduler(a *app.App, flushSchedule string, logger zerolog.Logger) (*crontab.Crontab, error) {
	ctab := crontab.New()

	if flushSchedule != "" {
		if err := ctab.AddJob(flushSchedule, flushJob, a, logger); err != nil {
			ctab.Shutdown()
			return nil, err
		}
		logger.Info().Str("schedule", flushSchedule).Msg("Scheduled cache flush")
	}
	return ctab, nil
}

func flushJob(a *app.App, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.Store.FlushAll(ctx); err != nil {
		logger.Error().Err(err).Msg("Scheduled cache flush incomplete")
	}
}
