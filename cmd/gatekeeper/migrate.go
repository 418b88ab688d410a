package main

import (
	"context"
	"fmt"
)

func runMigrate(parent context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	repo, closeStore, err := openStore(parent, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := repo.EnsureSchema(parent); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	log.Info("schema ready", "database", cfg.Database.Driver)
	return nil
}
