package pg

import (
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command ("up", "down", "status", "version", ...) against the SQL files in dir.
func Migrate(cfg Config, dir string, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if command == "" {
		command = "up"
	}
	logger.Info("running migrations", "command", command, "dir", dir)
	if err = goose.Run(command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	return nil
}
