package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"spin-reward-engine/internal/cache"
	"spin-reward-engine/internal/clock"
	"spin-reward-engine/internal/config"
	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/events"
	"spin-reward-engine/internal/features"
	"spin-reward-engine/internal/handler"
	"spin-reward-engine/internal/logging"
	"spin-reward-engine/internal/middleware"
	"spin-reward-engine/internal/probability"
	"spin-reward-engine/internal/selector"
	"spin-reward-engine/internal/service"
	"spin-reward-engine/internal/tracing"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	port := flag.String("port", "", "Server port (overrides config)")
	dbPath := flag.String("db", "", "Database file path (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	noWin, err := selector.ParseNoWinPolicy(cfg.Spin.NoWinPolicy)
	if err != nil {
		return err
	}
	stacking, err := probability.ParseStackingPolicy(cfg.Spin.StackingPolicy)
	if err != nil {
		return err
	}

	tracer, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.ServiceName,
		Version:     version,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	flags := features.NewDefaultManager(features.Defaults{
		Cache:          cfg.Cache.Enabled,
		EventHooks:     cfg.Events.Enabled,
		GoldenHours:    true,
		RecordRejected: cfg.Spin.RecordRejected,
	})

	var catalogCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
			cancel()
			if err != nil {
				return err
			}
			defer rc.Close()
			catalogCache = rc
			logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("using redis catalog cache")
		} else {
			catalogCache = cache.NewMemoryCache()
		}
	}

	bus := events.NewManager(cfg.Events.Enabled, logger)
	defer bus.Shutdown()
	bus.SubscribeAll(events.LogHandler(logger))
	if cfg.Events.Enabled && cfg.Events.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		bus.SubscribeAll(events.ForwardHandler(pub))
		logger.Info().Str("exchange", cfg.Events.AMQPExchange).Msg("publishing spin events to rabbitmq")
	}

	rng := clock.NewRandomRNG()
	if cfg.Spin.RNGSeed != 0 {
		rng = clock.NewSeededRNG(cfg.Spin.RNGSeed)
	}

	engine := service.NewEngine(db, service.Options{
		Clock:      clock.System{},
		RNG:        rng,
		Location:   loc,
		Cooldown:   cfg.Spin.Cooldown,
		MaxRetries: cfg.Spin.MaxRetries,
		Timeout:    cfg.Spin.Timeout,
		NoWin:      noWin,
		Stacking:   stacking,
		Cache:      catalogCache,
		CacheTTL:   cfg.Cache.TTL,
		Events:     bus,
		Features:   flags,
		Tracer:     tracer,
		Logger:     logger,
	})

	opts := handler.DefaultHandlerOptions()
	opts.MaxBodySize = cfg.Security.MaxRequestBodySize
	opts.Features = flags
	opts.Logger = logger
	h := handler.NewHandlerWithOptions(engine, opts)

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer limiter.Stop()
		r.Use(middleware.RateLimitMiddleware(limiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("database", cfg.Database.Path).
			Str("timezone", loc.String()).
			Str("no_win_policy", string(noWin)).
			Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
