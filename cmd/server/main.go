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

	"github.com/squadex/market-engine/internal/config"
	"github.com/squadex/market-engine/internal/metrics"
	"github.com/squadex/market-engine/internal/settle"
	"github.com/squadex/market-engine/internal/store"
	"github.com/squadex/market-engine/internal/store/migrations"
	"github.com/squadex/market-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
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
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Settlement engine ---
	engine := settle.NewEngine(st, settle.Config{
		TransferRate:   cfg.TransferRate,
		MinMarketCap:   cfg.MinMarketCap,
		BuyCloseOffset: cfg.BuyCloseOffset,
	})

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, engine, cfg, wsHub)

	// Periodic sweep that freezes buy-close snapshots. The HTTP endpoint
	// exists for operational replays; this ticker is the normal driver.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				closed, err := engine.CloseDueFixtures(sweepCtx, now.UTC())
				if err != nil {
					slog.Error("buy-close sweep failed", "closed", closed, "err", err)
				}
			}
		}
	}()

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
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market events.
		r.Get("/ws", wsHub.HandleWS)

		// Team management.
		r.Get("/teams", tradeSvc.ListTeams)
		r.Post("/teams", tradeSvc.CreateTeam)
		r.Get("/teams/{teamID}", tradeSvc.GetTeam)
		r.Get("/teams/{teamID}/tradability", tradeSvc.GetTradability)
		r.Get("/teams/{teamID}/ledger", tradeSvc.GetLedger)
		r.Get("/teams/{teamID}/ledger/verify", tradeSvc.VerifyLedger)
		r.Get("/teams/{teamID}/fixtures", tradeSvc.ListTeamFixtures)
		r.Post("/teams/{teamID}/cap-override", tradeSvc.OverrideCap)
		r.Post("/teams/{teamID}/repair", tradeSvc.RepairLedger)

		// Fixture lifecycle.
		r.Post("/fixtures", tradeSvc.CreateFixture)
		r.Get("/fixtures/{fixtureID}", tradeSvc.GetFixture)
		r.Post("/fixtures/{fixtureID}/result", tradeSvc.SubmitResult)
		r.Post("/fixtures/{fixtureID}/postpone", tradeSvc.PostponeFixture)
		r.Post("/fixtures/results", tradeSvc.SubmitResults)
		r.Post("/fixtures/close-due", tradeSvc.CloseDueFixtures)

		// Order execution.
		r.Post("/orders", tradeSvc.ExecuteOrder)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", tradeSvc.GetPortfolio)
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
		slog.Info("market-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down market-engine...")
	stopSweep()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
