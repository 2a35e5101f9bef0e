package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bankweb/internal/config"
	"bankweb/internal/httpapi"
	"bankweb/internal/ledger"
	"bankweb/internal/session"
	"bankweb/internal/store"
	"bankweb/internal/store/memstore"
	"bankweb/internal/store/postgres"
	"bankweb/internal/throttle"
)

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func main() {
	start := time.Now()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	logger.Info("startup", "addr", cfg.HTTPAddr, "driver", cfg.StoreDriver, "migrate", cfg.Migrate)

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	var st store.Store
	switch cfg.StoreDriver {
	case "memory":
		st = memstore.New(cfg.LockWait)
	case "postgres":
		maxConns := cfg.DBMaxConns
		if maxConns == 0 {
			maxConns = clamp(runtime.GOMAXPROCS(0)*4, 4, 50)
		}

		pgCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("parse dsn failed", "err", err)
			os.Exit(1)
		}
		pgCfg.MaxConns = int32(maxConns)
		pgCfg.MinConns = 1
		pgCfg.HealthCheckPeriod = 10 * time.Second
		pgCfg.MaxConnLifetime = 30 * time.Minute
		pgCfg.MaxConnIdleTime = 5 * time.Minute

		pool, err := pgxpool.NewWithConfig(startCtx, pgCfg)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		if err := pool.Ping(startCtx); err != nil {
			logger.Error("db ping failed", "err", err)
			os.Exit(1)
		}
		if cfg.Migrate {
			logger.Info("running migrations")
			if err := postgres.Migrate(startCtx, pool); err != nil {
				logger.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		st = postgres.New(pool, cfg.LockWait)
	default:
		logger.Error("unknown store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer st.Close()

	coord := ledger.New(st, logger, cfg.OpTimeout)
	sm := session.NewManager([]byte(cfg.SessionSecret), cfg.SessionTTL)
	attempts := throttle.New(cfg.LockoutAttempts, cfg.LockoutDuration)
	h := httpapi.NewHandlers(st, coord, sm, attempts, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.Router(h, sm, logger, cfg.MaxInflight),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Periodic eviction of expired lockout entries.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.LockoutDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				attempts.Sweep()
			case <-sweepDone:
				return
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("ready", "elapsed", time.Since(start).Truncate(time.Millisecond), "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")
	close(sweepDone)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	logger.Info("stopped")
}
