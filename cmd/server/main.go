package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/api"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/config"
	"github.com/papertrade/trading-engine/internal/events"
	"github.com/papertrade/trading-engine/internal/hub"
	"github.com/papertrade/trading-engine/internal/market"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/trade"
	"github.com/papertrade/trading-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, health, cleanup := openStore(ctx, cfg)
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event publisher ---
	var pub events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		slog.Info("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer pub.Close()

	// --- Market feed + broadcast hub ---
	feed := market.NewFeed(cfg.Seeds, cfg.MaxDelta, nil)
	priceHub := hub.New()
	hubDone := make(chan struct{})
	go func() {
		priceHub.Run(ctx, feed, cfg.TickInterval)
		close(hubDone)
	}()

	// --- Services ---
	walletSvc := wallet.NewService(st)
	limits := trade.NewLimits(cfg.MaxOrderQuantity, cfg.MaxOrderNotional)
	engine := trade.NewInstantEngine(st, walletSvc, feed, limits, pub)
	if err := engine.Resume(ctx); err != nil {
		slog.Error("could not resume order sequence", "err", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		slog.Error("token manager", "err", err)
		os.Exit(1)
	}

	srvHandlers := api.NewServer(api.Deps{
		Accounts:    account.NewService(st),
		Wallet:      walletSvc,
		Engine:      engine,
		Prices:      feed,
		Hub:         priceHub,
		Tokens:      tokens,
		Health:      health,
		CORSOrigins: cfg.CORSOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srvHandlers.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port, "symbols", feed.Symbols())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	<-hubDone
	fmt.Println("trading-engine stopped")
}

// openStore picks the ledger store. Without DATABASE_URL it falls back to
// memory. An unreachable database is logged and the process keeps running;
// storage calls then fail with model.ErrStorageUnavailable until it recovers.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(context.Context) error, []func()) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}

	var cleanup []func()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("invalid DATABASE_URL", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		slog.Error("database unreachable, running degraded", "err", err)
	} else if err := pg.Migrate(pingCtx); err != nil {
		slog.Error("schema migration failed, running degraded", "err", err)
	} else {
		slog.Info("connected to PostgreSQL")
	}
	cancel()

	breaker := store.NewBreakerStore(pg, 5, 10*time.Second)
	var st store.Store = breaker

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled")
	}

	health := func(ctx context.Context) error {
		if breaker.State() == gobreaker.StateOpen {
			return fmt.Errorf("%w: circuit open", model.ErrStorageUnavailable)
		}
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
		}
		return nil
	}
	return st, health, cleanup
}
