package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var viewFlags struct {
	addr  string
	file  string
	save  string
	json  bool
	color bool
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print live traffic of a daemon or the content of a storage file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := printer(cmd.OutOrStdout())
		if viewFlags.file != "" {
			return viewFile(viewFlags.file, out)
		}

		addr := cfg.Viewer.Addr
		if viewFlags.addr != "" {
			addr = viewFlags.addr
		}
		return viewLive(addr, out)
	},
}

func init() {
	viewCmd.Flags().StringVar(&viewFlags.addr, "addr", "", "daemon address")
	viewCmd.Flags().StringVarP(&viewFlags.file, "file", "f", "", "read a storage file instead of connecting")
	viewCmd.Flags().StringVar(&viewFlags.save, "save", "", "append received messages to a storage file")
	viewCmd.Flags().BoolVar(&viewFlags.json, "json", false, "print one JSON record per message")
	viewCmd.Flags().BoolVar(&viewFlags.color, "color", false, "color log levels")
}

func printer(w io.Writer) func(render.Record) error {
	switch {
	case viewFlags.json || cfg.Viewer.JSON:
		return func(r render.Record) error { return render.JSON(w, r) }
	case viewFlags.color:
		return func(r render.Record) error { return render.ConsoleColor(w, r) }
	default:
		return func(r render.Record) error { return render.Console(w, r) }
	}
}

func viewFile(path string, out func(render.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sr := dlt.NewStorageReader(f)
	for sr.Next() {
		m, err := sr.Message()
		if err != nil {
			logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		r := render.NewRecord(&m)
		t := sr.Header().Time()
		r.Time = &t
		if r.ECU == "" {
			r.ECU = sr.Header().ECU.String()
		}
		if err := out(r); err != nil {
			return err
		}
	}
	return sr.Err()
}

func viewLive(addr string, out func(render.Record) error) error {
	c := dlt.NewClient(logger, addr, dlt.WithClientSerialHeader(cfg.Viewer.SerialHeader))
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Disconnect()

	var sw *dlt.StorageWriter
	if viewFlags.save != "" {
		f, err := os.OpenFile(viewFlags.save, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		sw = dlt.NewStorageWriter(f)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	msgs := c.Messages()
	for {
		select {
		case <-sig:
			return nil
		case data, ok := <-msgs:
			if !ok {
				return errors.New("connection closed by daemon")
			}
			m, err := dlt.ParseMessage(data)
			if err != nil {
				logger.Warn("skipping malformed message", zap.Error(err))
				continue
			}
			now := time.Now()
			if sw != nil {
				raw := data[:m.Size()]
				if m.SerialHeader {
					raw = raw[dlt.SerialHeaderSize:]
				}
				ecu, _ := m.ECUID()
				if err := sw.Write(dlt.NewStorageHeader(now, ecu), raw); err != nil {
					return fmt.Errorf("save: %w", err)
				}
			}
			r := render.NewRecord(&m)
			r.Time = &now
			if err := out(r); err != nil {
				return err
			}
		}
	}
}
