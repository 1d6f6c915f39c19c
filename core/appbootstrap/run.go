package appbootstrap

import (
	"context"
	"fmt"

	"incident-registry/api"
	"incident-registry/config"
	"incident-registry/core/store"
	"incident-registry/core/utils"
)

// Run opens the store, applies migrations and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.AppConfig) error {
	logger := utils.NewLogger(cfg.Log)
	logger.Info("starting incident registry", "env", cfg.AppEnv, "db_driver", cfg.DBDriver, "listen_addr", cfg.ListenAddr)
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	version, err := store.SchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	logger.Info("schema ready", "version", version)
	rt, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	srv := api.NewServer(cfg, rt.serverDeps, rt.workers, logger)
	return srv.Run(ctx)
}
