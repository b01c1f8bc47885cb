package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ec-ordering/internal/config"
	"github.com/example/ec-ordering/internal/infrastructure/kafka"
	"github.com/example/ec-ordering/internal/infrastructure/rabbitmq"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/example/ec-ordering/internal/projection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var projectorMetricsAddr string

var projectorCmd = &cobra.Command{
	Use:   "projector",
	Short: "Consume order events from the broker into the read model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStores(cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		projector := projection.NewProjector(projection.NewOrderApplier(st.views), log.Named("projector"))

		metrics.MustRegister(prometheus.DefaultRegisterer)
		if projectorMetricsAddr != "" {
			ms := metricsServer()
			go func() {
				if err := ms.Start(projectorMetricsAddr); err != nil && ctx.Err() == nil {
					log.Warn("metrics server exited", zap.Error(err))
				}
			}()
			defer func() { _ = ms.Shutdown(context.Background()) }()
		}

		sub := subscription{consumer: cfg.Projection.Consumer, groupID: cfg.Broker.Kafka.GroupID}
		err = consume(ctx, cfg, sub, log, projector.HandleMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	projectorCmd.Flags().StringVar(&projectorMetricsAddr, "metrics-addr", ":9102", "address for /metrics and /healthz; empty disables")
}

// subscription names one consumer of the event stream: its RabbitMQ queue
// prefix and its Kafka group.
type subscription struct {
	consumer string
	groupID  string
}

func consume(ctx context.Context, cfg config.Config, sub subscription, log *zap.Logger, handle messaging.BodyHandler) error {
	switch cfg.Broker.Kind {
	case "kafka":
		c := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Broker.Kafka.Brokers,
			Topics:         messaging.WireTypes(),
			GroupID:        sub.groupID,
			MinBytes:       cfg.Broker.Kafka.MinBytes,
			MaxBytes:       cfg.Broker.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Broker.Kafka.CommitInterval) * time.Millisecond,
			MaxDeliveries:  cfg.Projection.MaxDeliveries,
		}, log.Named("kafka"))
		defer func() { _ = c.Close() }()
		return c.Run(ctx, handle)

	case "rabbitmq":
		conn, err := rabbitmq.Dial(ctx, cfg.Broker.RabbitMQ.URL, dialAttempts, log)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		defer func() { _ = ch.Close() }()

		queues, err := rabbitmq.DeclareQueues(ch, cfg.Broker.RabbitMQ.Exchange, sub.consumer,
			messaging.WireTypes(), cfg.Projection.MaxDeliveries)
		if err != nil {
			return err
		}
		c := rabbitmq.NewConsumer(ch, queues, cfg.Broker.RabbitMQ.Prefetch, cfg.Projection.MaxDeliveries, log.Named("rabbitmq"))
		return c.Run(ctx, handle)

	default:
		return fmt.Errorf("%s needs an external broker, got %q", sub.consumer, cfg.Broker.Kind)
	}
}
