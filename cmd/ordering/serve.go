package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/example/ec-ordering/internal/api"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/dispatch"
	"github.com/example/ec-ordering/internal/messaging"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/example/ec-ordering/internal/projection"
	"github.com/example/ec-ordering/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the in-process publish path and outbox sweep",
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

		br, err := openBroker(ctx, cfg.Broker, log)
		if err != nil {
			return err
		}
		defer func() { _ = br.Close() }()

		// With the in-process broker the read side lives here too.
		if br.bus != nil {
			projector := projection.NewProjector(projection.NewOrderApplier(st.views), log.Named("projector"))
			for _, wt := range messaging.WireTypes() {
				br.bus.Subscribe(wt, projector.HandleMessage)
			}
		}

		publisher := messaging.NewPublisher(br, cfg.Broker.Source, log.Named("publisher"))
		relay, closeLease, err := newRelay(cfg, st.db, publisher, log.Named("relay"))
		if err != nil {
			return err
		}
		defer func() { _ = closeLease() }()

		dispatcher := dispatch.New(log.Named("dispatch"))
		dispatcher.SubscribeAll(dispatch.HandlerFunc(relay.Handle))

		metrics.MustRegister(prometheus.DefaultRegisterer)

		server := api.NewServer(api.Deps{
			Commands: command.NewHandler(st.db, dispatcher, log.Named("command"),
				command.WithDispatchDelay(cfg.Outbox.DispatchDelay)),
			Queries: query.NewHandler(st.views),
			JWT:     newJWTService(cfg.Auth),
			Log:     log.Named("http"),
		})

		relayDone := make(chan error, 1)
		go func() { relayDone <- relay.Run(ctx) }()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		<-relayDone
		return nil
	},
}
