package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/bridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bridgeDaemon string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward daemon traffic to websocket clients as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := cfg.Bridge
		if bridgeDaemon != "" {
			bc.DaemonAddr = bridgeDaemon
		}
		client := dlt.NewClient(logger, bc.DaemonAddr, dlt.WithClientSerialHeader(cfg.Viewer.SerialHeader))
		if err := client.Connect(); err != nil {
			return err
		}
		defer client.Disconnect()

		b := bridge.New(logger)
		defer b.Close()

		mux := http.NewServeMux()
		mux.Handle(bc.Path, b)
		hs := &http.Server{Addr: bc.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		errc := make(chan error, 1)
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		defer hs.Shutdown(context.Background())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() { errc <- b.Run(ctx, client.Messages()) }()

		logger.Info("bridge started",
			zap.String("daemon", bc.DaemonAddr),
			zap.String("listen", bc.ListenAddr),
			zap.String("path", bc.Path))
		select {
		case err := <-errc:
			if err == nil {
				return errors.New("connection closed by daemon")
			}
			return err
		case <-ctx.Done():
			return nil
		}
	},
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeDaemon, "daemon", "", "daemon address")
}
