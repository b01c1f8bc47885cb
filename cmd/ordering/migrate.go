package main

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the orders, outbox and projection tables if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("migrate needs database.driver postgres or mysql")
		}

		st, err := openStores(cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := store.Migrate(ctx, st.sql); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migration complete", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}
