package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nimasrn/esim-gateway/internal/app"
	"github.com/nimasrn/esim-gateway/internal/config"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

const usage = `usage: cli [--env=path] [--dir=./migrations] <command> [args]

commands:
  migrate [up|down|status|version|redo|reset]   run goose against the write database
  sync                                          pull the provider catalog once
`

func main() {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	envPath := fs.String("env", "", "env file to load before reading the environment")
	dir := fs.String("dir", "./migrations", "directory holding the goose migrations")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	if err := config.Load(getEnvPath(*envPath)); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "migrate":
		err = migrate(*dir, args[1:])
	case "sync":
		err = syncCatalog()
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func migrate(dir string, args []string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("migration dir %s: %w", dir, err)
	}
	command := "up"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	_, writeConf := app.PostgresConfigs(config.Get())
	return pg.Migrate(writeConf, dir, command, args...)
}

func syncCatalog() error {
	cfg := config.Get()
	readConf, writeConf := app.PostgresConfigs(cfg)
	db, err := pg.CreateReadWrite(readConf, writeConf, false)
	if err != nil {
		return fmt.Errorf("connect pg: %w", err)
	}
	redisAdap, err := redis.NewRedisAdapter("cli", cfg.RedisUniversalKeyPrefix, app.RedisOptions(cfg))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a, err := app.Build(cfg, db, redisAdap)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CatalogSyncLockTTL)
	defer cancel()
	report, err := a.Catalog.Sync(ctx)
	if err != nil {
		return err
	}
	logger.Info("catalog synced",
		"countries", report.Countries,
		"plans", report.Plans,
		"top_up_plans", report.TopUpPlans,
		"deactivated", report.DeactivatedPlans,
		"skipped", report.Skipped,
		"duration", report.Duration.Round(time.Millisecond))
	return nil
}

// getEnvPath falls back to ./.env when it exists.
func getEnvPath(flagged string) string {
	if flagged != "" {
		return flagged
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}
