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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/wallet-engine/internal/api"
	"github.com/atmx/wallet-engine/internal/config"
	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/lock"
	"github.com/atmx/wallet-engine/internal/marketdata/alpaca"
	"github.com/atmx/wallet-engine/internal/marketdata/yahoo"
	"github.com/atmx/wallet-engine/internal/metrics"
	"github.com/atmx/wallet-engine/internal/position"
	"github.com/atmx/wallet-engine/internal/pricecache"
	"github.com/atmx/wallet-engine/internal/scheduler"
	"github.com/atmx/wallet-engine/internal/store"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.Postgres.URL != "" {
		if cfg.Postgres.Migrate {
			if err := store.Migrate(cfg.Postgres.URL); err != nil {
				slog.Error("database migration failed", "err", err)
				os.Exit(1)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Market data ---
	alpacaCfg := alpaca.Config{
		KeyID:     cfg.MarketData.AlpacaKeyID,
		SecretKey: cfg.MarketData.AlpacaSecret,
		Feed:      cfg.MarketData.AlpacaFeed,
	}
	var source historical.Source
	switch cfg.MarketData.Provider {
	case "alpaca":
		source = alpaca.NewBars(alpacaCfg)
	default:
		source = yahoo.New(yahoo.Config{
			BaseURL:      cfg.MarketData.YahooURL,
			Timeout:      cfg.MarketData.Timeout,
			Debug:        cfg.MarketData.Debug,
			SymbolSuffix: cfg.MarketData.SymbolSuffix,
		})
	}
	slog.Info("market data provider", "provider", cfg.MarketData.Provider)

	// --- Engine ---
	historyStart, _ := cfg.HistoryStartTime()
	locks := lock.NewCoordinator(cfg.Engine.LockBackoff)
	hist := historical.NewService(st, locks, source,
		historical.WithStart(historyStart),
		historical.WithWorkers(cfg.Engine.RefreshWorkers),
	)
	engine := position.NewEngine(st, locks, hist,
		position.WithSnapshotErrorHandler(func(symbol, portfolio string, err error) {
			slog.Error("snapshot persistence failed", "symbol", symbol, "portfolio", portfolio, "err", err)
		}),
	)

	// --- Live prices + WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	prices := pricecache.New()
	prices.Subscribe(wsHub.PublishTick)
	if rdb != nil {
		mirror := pricecache.NewRedisMirror(rdb, cfg.Redis.MirrorKey)
		if err := mirror.Warm(ctx, prices); err != nil {
			slog.Warn("price cache warm failed", "err", err)
		}
		prices.Subscribe(mirror.Listener())
	}
	if cfg.MarketData.LivePrices {
		symbols, err := st.DistinctSymbols(ctx, "")
		if err != nil {
			slog.Error("list symbols for live prices", "err", err)
			os.Exit(1)
		}
		go func() {
			if err := prices.Run(ctx, alpaca.NewTrades(alpacaCfg), symbols); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("live price stream stopped", "err", err)
			}
		}()
		slog.Info("live prices enabled", "symbols", len(symbols))
	}

	// --- Scheduled refresh ---
	sched, err := scheduler.New()
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	refresh := func(ctx context.Context) error {
		if err := hist.RefreshAll(ctx); err != nil {
			slog.Warn("some historicals failed to refresh", "err", err)
		}
		positions, err := engine.ComputeAll(ctx, "")
		if err != nil {
			return fmt.Errorf("compute positions: %w", err)
		}
		slog.Info("positions refreshed", "open", len(positions))
		return nil
	}
	if err := sched.NewCrontabJob("refresh", refresh, cfg.Jobs.RefreshCrontab, cfg.Jobs.RefreshOnStart); err != nil {
		slog.Error("schedule refresh failed", "err", err)
		os.Exit(1)
	}
	sched.Start()

	svc := api.NewService(engine, hist, st, prices, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS for the frontend; X-Total-Count carries list sizes.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "X-Total-Count")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wallet-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	sched.Stop()
	engine.Wait()
	fmt.Println("wallet-engine stopped")
}
