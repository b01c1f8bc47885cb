package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var relayMetricsAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run only the outbox sweep against an external broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if cfg.Broker.Kind == "memory" || cfg.Database.Driver == "memory" {
			return fmt.Errorf("relay needs a shared database and an external broker; use serve for in-memory mode")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStores(cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		br, err := openBroker(ctx, cfg.Broker, log)
		if err != nil {
			return err
		}
		defer func() { _ = br.Close() }()

		publisher := messaging.NewPublisher(br, cfg.Broker.Source, log.Named("publisher"))
		relay, closeLease, err := newRelay(cfg, st.db, publisher, log.Named("relay"))
		if err != nil {
			return err
		}
		defer func() { _ = closeLease() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)
		if relayMetricsAddr != "" {
			ms := metricsServer()
			go func() {
				if err := ms.Start(relayMetricsAddr); err != nil && ctx.Err() == nil {
					log.Warn("metrics server exited", zap.Error(err))
				}
			}()
			defer func() { _ = ms.Shutdown(context.Background()) }()
		}

		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayMetricsAddr, "metrics-addr", ":9101", "address for /metrics and /healthz; empty disables")
}
