package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshenhu/dlt/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var daemonFlags struct {
	addr    string
	store   string
	metrics string
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a DLT daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		dc := cfg.Daemon
		if cmd.Flags().Changed("addr") {
			dc.Addr = daemonFlags.addr
		}
		if cmd.Flags().Changed("store") {
			dc.StorePath = daemonFlags.store
		}
		if cmd.Flags().Changed("metrics") {
			dc.MetricsAddr = daemonFlags.metrics
		}

		var opts []daemon.Option
		if dc.StorePath != "" {
			store, err := daemon.OpenStore(dc.StorePath, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, daemon.WithStore(store))
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, daemon.WithMetrics(daemon.NewMetrics(reg)))

		d, err := daemon.New(logger, cfg.DaemonConfig(), opts...)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if dc.MetricsAddr != "" {
			ms := &http.Server{
				Addr:              dc.MetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			defer ms.Shutdown(context.Background())
		}

		srv := d.Server(dc.Addr)
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		go d.Run(ctx)

		logger.Info("daemon started", zap.String("addr", dc.Addr), zap.String("ecu", dc.ECUID))
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		logger.Info("daemon stopping")
		return srv.Shutdown()
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonFlags.addr, "addr", "", "listen address")
	daemonCmd.Flags().StringVar(&daemonFlags.store, "store", "", "directory of the persistent configuration")
	daemonCmd.Flags().StringVar(&daemonFlags.metrics, "metrics", "", "address of the Prometheus endpoint")
}
