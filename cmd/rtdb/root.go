package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/httpengine"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/promadapters"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/zapadapters"
)

const shutdownTimeout = 5 * time.Second

// app carries what the subcommands share: the configuration and the client built from it.
type app struct {
	v *viper.Viper

	cfg           Config
	logger        *zap.Logger
	client        *httpengine.Client
	metricsServer *http.Server
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "rtdb",
		Short:         "Command line client for a realtime JSON database",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configFile, err := cmd.Flags().GetString(configFlag)
			if err != nil {
				return err
			}

			if err := readConfig(a.v, configFile); err != nil {
				return err
			}

			if err := a.open(); err != nil {
				_ = a.close()
				return err
			}

			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	bindFlags(a.v, root.PersistentFlags())

	root.AddCommand(
		newGetCommand(a),
		newSetCommand(a),
		newUpdateCommand(a),
		newPushCommand(a),
		newDeleteCommand(a),
		newListenCommand(a),
	)

	return root
}

// open resolves the configuration and builds the logger, the optional metrics endpoint and the client.
func (a *app) open() error {
	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := zapadapters.NewLogger(a.logger)

	options := []httpengine.Option{
		httpengine.WithLogger(logger),
		httpengine.WithContextualLogger(logger),
		httpengine.WithReconnectDelay(cfg.ReconnectDelay),
	}

	if cfg.Token != "" {
		options = append(options, httpengine.WithCredentials(realtimedb.StaticToken(cfg.Token)))
	}

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		options = append(options, httpengine.WithMetrics(promadapters.NewMetricsCollector(registry)))

		if err := a.serveMetrics(cfg.MetricsAddr, registry); err != nil {
			return err
		}
	}

	a.client, err = httpengine.NewClient(cfg.Endpoint, options...)

	return err
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	server, logger := a.metricsServer, a.logger
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	a.logger.Info("serving metrics", zap.String("addr", listener.Addr().String()))

	return nil
}

// close releases everything open created. It is safe to call more than once.
func (a *app) close() error {
	var errs []error

	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.metricsServer.Shutdown(ctx))
		a.metricsServer = nil
	}

	if a.logger != nil {
		// stderr cannot be synced on every platform
		_ = a.logger.Sync()
		a.logger = nil
	}

	return errors.Join(errs...)
}

// runE adapts fn to cobra. PersistentPostRunE is skipped when a command fails, so failures close here.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			_ = a.close()
			return err
		}

		return nil
	}
}

// requestContext bounds a one-shot request by the configured timeout.
func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.cfg.Timeout)
}
