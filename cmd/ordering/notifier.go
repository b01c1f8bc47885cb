package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/example/ec-ordering/internal/email"
	"github.com/example/ec-ordering/internal/infrastructure/redis"
	"github.com/example/ec-ordering/internal/notification"
	"github.com/spf13/cobra"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Mail an order confirmation for every created order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The deduper is a nil interface, not a typed nil, when Redis is off.
		var dedupe notification.Deduper
		if cfg.Redis.Addr != "" {
			rdb, err := redis.NewClient(redis.Opts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rdb.Close() }()
			dedupe = redis.NewDeduper(rdb, "ordering:notifier:", cfg.Notifier.PendingTTL, cfg.Notifier.DedupeTTL)
		}

		mailer := email.NewService(cfg.Notifier.SMTPHost, cfg.Notifier.SMTPPort, cfg.Notifier.From)
		handler := notification.NewHandler(mailer, dedupe, log.Named("notifier"))

		sub := subscription{consumer: cfg.Notifier.Consumer, groupID: cfg.Notifier.GroupID}
		if err := consume(ctx, cfg, sub, log, handler.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
