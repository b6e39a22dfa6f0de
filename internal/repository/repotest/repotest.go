// Package repotest opens throwaway sqlite databases for tests outside the repository package.
package repotest

import (
	"testing"

	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens an in-memory sqlite database with every table migrated.
// A single connection keeps the database shared and serializes writers.
func NewDB(t testing.TB) *pg.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.AllEntities()...))

	return pg.New(db, db)
}
