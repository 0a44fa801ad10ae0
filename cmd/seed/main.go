package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"spin-reward-engine/internal/cache"
	"spin-reward-engine/internal/config"
	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/logging"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/service"
)

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	dbPath := flag.String("db", "", "Database file path (overrides config)")
	catalogFile := flag.String("catalog", "", "JSON catalog to load (required)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if *catalogFile == "" {
		logger.Fatal().Msg("-catalog is required")
	}

	data, err := os.ReadFile(*catalogFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read catalog")
	}
	var catalog models.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse catalog")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	opts := service.Options{Logger: logger}
	// Running API instances share a redis catalog cache; drop the stale schedules.
	if cfg.Cache.Enabled && cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, cached schedules expire on their own")
		} else {
			defer rc.Close()
			opts.Cache = rc
		}
	}

	engine := service.NewEngine(db, opts)
	summary, err := engine.LoadCatalog(ctx, catalog)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load catalog")
	}

	logger.Info().Interface("summary", summary).Str("database", cfg.Database.Path).Msg("seed complete")
}
