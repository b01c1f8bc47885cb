package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/config"
	"github.com/example/ec-ordering/internal/infrastructure/kafka"
	"github.com/example/ec-ordering/internal/infrastructure/rabbitmq"
	"github.com/example/ec-ordering/internal/infrastructure/redis"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/logger"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/outbox"
	"github.com/example/ec-ordering/internal/readmodel"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	dialAttempts = 10
	leaseKey     = "ordering:outbox:lease"
)

type viewStore interface {
	store.ViewStore[*readmodel.OrderView]
	store.OrderViewReader
}

// stores holds the write database and the projection store. Both share one
// connection pool when SQL backed.
type stores struct {
	db    store.Database
	views viewStore
	sql   *sqlx.DB
}

func (s *stores) Close() error {
	if s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

func openStores(cfg config.DatabaseConfig) (*stores, error) {
	if cfg.Driver == "memory" {
		return &stores{db: store.NewMemoryDatabase(), views: store.NewMemoryViewStore()}, nil
	}
	sqlDB, err := store.Connect(cfg.Driver, cfg.DSN, store.Opts{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		PingTimeout:     cfg.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Driver, err)
	}
	return &stores{db: store.NewSQLDatabase(sqlDB), views: store.NewSQLViewStore(sqlDB), sql: sqlDB}, nil
}

// broker is the publishing side of the configured message broker. bus is
// set only for the in-process broker.
type broker struct {
	messaging.Broker
	bus   *messaging.Bus
	close func() error
}

func (b *broker) Close() error { return b.close() }

func openBroker(ctx context.Context, cfg config.BrokerConfig, log *zap.Logger) (*broker, error) {
	switch cfg.Kind {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers)
		return &broker{Broker: p, close: p.Close}, nil
	case "rabbitmq":
		conn, err := rabbitmq.Dial(ctx, cfg.RabbitMQ.URL, dialAttempts, log)
		if err != nil {
			return nil, err
		}
		p, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQ.Exchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &broker{Broker: p, close: func() error {
			return errors.Join(p.Close(), conn.Close())
		}}, nil
	default:
		bus := messaging.NewBus()
		return &broker{Broker: bus, bus: bus, close: func() error { return nil }}, nil
	}
}

func outboxConfig(cfg config.OutboxConfig) outbox.Config {
	return outbox.Config{
		Interval:    cfg.Interval,
		BatchSize:   cfg.BatchSize,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		MaxAttempts: cfg.MaxAttempts,
		LeaseTTL:    cfg.LeaseTTL,
	}
}

// newRelay builds the outbox relay, guarded by a Redis lease when one is
// configured so that only one replica sweeps at a time.
func newRelay(cfg config.Config, db store.Database, pub outbox.EventPublisher, log *zap.Logger) (*outbox.Relay, func() error, error) {
	noop := func() error { return nil }
	if cfg.Redis.Addr == "" {
		return outbox.NewRelay(db, pub, outboxConfig(cfg.Outbox), log), noop, nil
	}
	rdb, err := redis.NewClient(redis.Opts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("redis connect: %w", err)
	}
	relay := outbox.NewRelay(db, pub, outboxConfig(cfg.Outbox), log,
		outbox.WithLease(redis.NewLease(rdb, leaseKey)))
	return relay, rdb.Close, nil
}

func newJWTService(cfg config.AuthConfig) *auth.JWTService {
	if cfg.JWTSecret == "" {
		return nil
	}
	return auth.NewJWTService(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

// metricsServer exposes /metrics and /healthz for the background commands.
func metricsServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}
