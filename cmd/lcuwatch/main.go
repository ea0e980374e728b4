package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lcu-watch/internal/config"
	"github.com/DoyleJ11/lcu-watch/internal/httpapi"
	"github.com/DoyleJ11/lcu-watch/internal/ingest"
	"github.com/DoyleJ11/lcu-watch/internal/lcu"
	"github.com/DoyleJ11/lcu-watch/internal/namedb"
	"github.com/DoyleJ11/lcu-watch/internal/state"
	"github.com/DoyleJ11/lcu-watch/internal/ticker"
)

func main() {
	// load .env, then config from the environment
	envErr := godotenv.Load()
	cfg := config.FromEnv()

	log := buildLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := state.New()

	client := lcu.NewClient(cfg.LockfilePath, log.Named("lcu"))
	client.RefreshIfNeeded(true)
	if !client.Ready() {
		log.Info("league client not detected yet, waiting for it")
	}

	names := namedb.New(namedb.Config{
		Languages: cfg.Languages,
		CacheDir:  cfg.CacheDir,
	}, log.Named("namedb"))

	clock := clockwork.NewRealClock()
	countdown := ticker.New(st, client, names, clock, nil, ticker.Config{
		TickInterval: cfg.TickInterval,
		Fallback:     cfg.TickFallback,
		Resample:     cfg.TickResample,
	}, log.Named("ticker"))

	watcher := ingest.New(client, st, names, countdown, clock, ingest.Config{
		ReconnectBackoff: cfg.ReconnectBackoff,
		PingInterval:     cfg.PingInterval,
		PingTimeout:      cfg.PingTimeout,
		ProbeAttempts:    cfg.ProbeAttempts,
		ProbeInterval:    cfg.ProbeInterval,
	}, log.Named("ingest"))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Names are a nicety: a failed load just leaves ids unannotated.
		if err := names.Load(ctx); err != nil {
			log.Warn("name database unavailable", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error { return watcher.Run(ctx) })

	if cfg.WatchLockfile {
		if path, ok := lcu.FindLockfile(cfg.LockfilePath); ok {
			lw, err := lcu.NewLockfileWatcher(path, 0, func() { client.RefreshIfNeeded(true) }, log.Named("lockwatch"))
			if err != nil {
				log.Warn("lockfile watcher unavailable", zap.Error(err))
			} else {
				g.Go(func() error { return lw.Run(ctx) })
			}
		}
	}

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: httpapi.SetupRoutes(st, names),
		}
		g.Go(func() error {
			log.Info("status api listening", zap.String("addr", cfg.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func buildLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
