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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/moonflip/flip-engine/internal/bankroll"
	"github.com/moonflip/flip-engine/internal/config"
	"github.com/moonflip/flip-engine/internal/flip"
	"github.com/moonflip/flip-engine/internal/metrics"
	"github.com/moonflip/flip-engine/internal/oracle"
	"github.com/moonflip/flip-engine/internal/payment"
	"github.com/moonflip/flip-engine/internal/ratelimit"
	"github.com/moonflip/flip-engine/internal/store"
	"github.com/moonflip/flip-engine/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("FLIP_CONFIG_DIR"))
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Dependencies ---
	bank := bankroll.New(bankroll.Options{
		InitialBalance:  cfg.InitialBankroll,
		MinimumBalance:  cfg.MinimumBankroll,
		HouseWallet:     cfg.HouseWallet,
		HouseFeeRate:    cfg.HouseFeeRate,
		ReferralFeeRate: cfg.ReferralFeeRate,
	})

	priceClient := oracle.New(oracle.Options{
		BaseURL:       cfg.OracleBaseURL,
		Timeout:       cfg.OracleTimeout,
		CacheTTL:      cfg.PriceCacheTTL,
		FeedDownAfter: cfg.FeedDownAfter,
	})

	limiter := ratelimit.New(cfg.MaxBetsPerMinute, cfg.MaxBetsPerHour)

	// --- WebSocket hub ---
	wsHub := flip.NewWSHub()
	go wsHub.Run()

	// --- Settlement engine ---
	svc := flip.NewService(st, priceClient, bank, limiter, payment.LogRail{}, wsHub, flip.Options{
		MinBet:           cfg.MinBet,
		MaxBet:           cfg.MaxBet,
		GameDuration:     cfg.GameDuration,
		PayoutMultiplier: cfg.PayoutMultiplier,
		HouseWallet:      cfg.HouseWallet,
		Whitelist:        token.NewWhitelist(cfg.TokenWhitelist),
	})

	// Re-derive resolution deadlines for bets that survived a restart.
	if n, err := svc.RecoverPending(context.Background()); err != nil {
		slog.Error("pending bet recovery failed", "err", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("rescheduled pending resolutions", "count", n)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"flip-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time bet events.
		r.Get("/ws", wsHub.HandleWS)

		// Bet lifecycle.
		r.Post("/bets", svc.PlaceBet)
		r.Get("/bets/active", svc.ListActiveBets)
		r.Get("/bets/{betID}", svc.GetBet)
		r.Post("/bets/{betID}/resolve", svc.ResolveBet)

		// User queries.
		r.Get("/users/{wallet}/history", svc.GetUserHistory)
		r.Get("/users/{wallet}/stats", svc.GetUserStats)
		r.Get("/leaderboard", svc.GetLeaderboard)

		// Operator surface.
		r.Get("/bankroll", svc.GetBankroll)
		r.Get("/oracle", svc.GetOracleStatus)
		r.Get("/stats", svc.GetEngineStats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("flip-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down flip-engine...")
	svc.Close()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("flip-engine stopped")
}
