package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coinarena/ledger-engine/internal/account"
	"github.com/coinarena/ledger-engine/internal/api"
	"github.com/coinarena/ledger-engine/internal/auth"
	"github.com/coinarena/ledger-engine/internal/config"
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/ranking"
	"github.com/coinarena/ledger-engine/internal/store"
	"github.com/coinarena/ledger-engine/internal/stream"
	"github.com/coinarena/ledger-engine/internal/trade"
	"github.com/coinarena/ledger-engine/internal/valuation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.MemoryMode() {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	} else {
		if cfg.RunMigrations {
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				slog.Error("migrations failed", "err", err)
				os.Exit(1)
			}
			slog.Info("migrations applied")
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

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
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.JWTSecret == config.DevJWTSecret {
		slog.Warn("JWT_SECRET not set, signing tokens with the development secret")
	}

	// --- Price oracle ---
	quotes := oracle.NewUpbitClient(cfg.OracleBaseURL, cfg.QuoteCurrency, cfg.OracleTimeout)

	// --- Trade event stream ---
	hub := stream.NewHub()
	go hub.Run(ctx)

	notifier := stream.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Error("kafka writer close failed", "err", err)
			}
		})
		notifier = append(notifier, kp)
		slog.Info("publishing trades to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Services ---
	engine := trade.NewEngine(st, quotes, cfg.FeeRate, notifier)
	valuations := valuation.NewService(st, quotes, cfg.InitialBalance)
	rank, err := ranking.NewService(st, quotes, cfg.InitialBalance, cfg.LeaderboardCacheTTL)
	if err != nil {
		slog.Error("leaderboard cache init failed", "err", err)
		os.Exit(1)
	}
	accounts := account.NewService(st, cfg.InitialBalance, cfg.BcryptCost)
	tokens := auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)

	h := api.NewHandlers(accounts, tokens, engine, valuations, rank, st, quotes)
	router := api.NewRouter(h, hub.HandleWS, tokens, cfg.CORSOrigins)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: api.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening",
			"port", cfg.Port,
			"fee_rate", cfg.FeeRate,
			"initial_balance", cfg.InitialBalance,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
