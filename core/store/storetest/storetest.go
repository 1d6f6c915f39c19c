// Package storetest opens throwaway databases for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"incident-registry/config"
	"incident-registry/core/store"
	"incident-registry/core/utils"
)

// NewSQLite returns a migrated SQLite database in a temp dir, closed on cleanup.
func NewSQLite(t testing.TB) *store.DB {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "incidents.db"),
	}
	logger := utils.NopLogger()
	db, err := store.NewDB(cfg, logger)
	require.NoError(t, err, "open db")
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(context.Background(), db, logger), "migrations")
	return db
}
