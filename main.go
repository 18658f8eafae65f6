// entry point of the application
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vidgrab/internal/auth"
	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/depmanager"
	"vidgrab/internal/downloader"
	httprouter "vidgrab/internal/infrastructure/delivery/http"
	"vidgrab/internal/observability"
	"vidgrab/internal/proxymgr"
	"vidgrab/internal/ratelimit"
	"vidgrab/internal/service"
	"vidgrab/internal/userstore"
	"vidgrab/internal/workspace"
	httpserver "vidgrab/pkg/http/server"
	"vidgrab/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("vidgrab stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		return err
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		log.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New()

	// workers and tickers stop after the server drained
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := newOrchestrator(ctx, bgCtx, log, cfg, metrics)
	if err != nil {
		return err
	}

	workspaces, err := workspace.New(log, cfg.Workspace, metrics)
	if err != nil {
		return err
	}

	workspaces.StartSweeper(bgCtx, cfg.Workspace.SweepInterval)

	store, err := newStore(ctx, log, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokens(log, cfg.Auth)
	if err != nil {
		return err
	}

	users := service.NewUsers(log, store, tokens, auth.NewHasher(cfg.Auth.BcryptCost), metrics)
	if err := users.Seed(ctx, cfg.Auth.SeedUsername, cfg.Auth.SeedPassword); err != nil {
		return err
	}

	limiter := ratelimit.New(log, cfg.RateLimit)
	go limiter.StartJanitor(bgCtx, cfg.RateLimit.IdleTTL)

	downloads := service.NewDownloads(log, cfg.Job, metrics, workspaces, resolver)
	downloads.Start(bgCtx)

	router := httprouter.New(log, cfg.HTTP, httprouter.Deps{
		Users:     users,
		Downloads: downloads,
		Tokens:    tokens,
		Limiter:   limiter,
		Metrics:   metrics,
	})

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:              cfg.HTTP.Port,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "vidgrab started", slog.String("port", cfg.HTTP.Port))

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	if err := httpSrv.Shutdown(); err != nil {
		log.Error("http server shutdown", slog.Any("error", err))
	}

	cancel()

	log.Info("vidgrab shut down gracefully")

	return nil
}

// newOrchestrator builds the platform table. bgCtx bounds the binary update
// and proxy health checkers.
func newOrchestrator(ctx, bgCtx context.Context, log *slog.Logger, cfg *config.Config,
	metrics *observability.Metrics,
) (*downloader.Orchestrator, error) {
	if cfg.App.MockBackends {
		log.WarnContext(ctx, "mock backends enabled, nothing is downloaded")

		mock := downloader.NewMock(log, consts.DefaultSimulateTime, nil)

		return downloader.NewOrchestrator(log, metrics, downloader.Routes(mock, mock)), nil
	}

	deps := depmanager.New(log, cfg.DepManager)

	log.InfoContext(ctx, "checking if yt-dlp and ffmpeg are installed. it may take some time...")

	if err := deps.Start(bgCtx); err != nil {
		return nil, err
	}

	var proxies *proxymgr.Manager
	if len(cfg.Proxy.Proxies) > 0 {
		proxies = proxymgr.New(log, cfg.Proxy, metrics)
		proxies.StartHealthChecker(bgCtx)

		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", len(cfg.Proxy.Proxies)))
	}

	generic := downloader.NewYTdlp(log, cfg.Dir, deps, proxies)
	youtube := downloader.NewYouTube(log, proxies, downloader.NewFFmpeg(log, deps))

	return downloader.NewOrchestrator(log, metrics, downloader.Routes(youtube, generic)), nil
}

func newStore(ctx context.Context, log *slog.Logger, cfg config.Store) (userstore.Storer, error) {
	if cfg.RedisAddr == "" {
		log.InfoContext(ctx, "using in-memory user store")

		return userstore.NewMemory(log), nil
	}

	return userstore.NewRedis(ctx, log, cfg)
}
