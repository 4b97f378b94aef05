package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var parseHexCmd = &cobra.Command{
	Use:   "parse-hex <hex>...",
	Short: "Decode one message given as hex",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(strings.Join(args, ""))
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("parse-hex: %w", err)
		}
		m, err := dlt.ParseMessage(b)
		if err != nil {
			return fmt.Errorf("parse-hex: %w", err)
		}
		if m.Size() < len(b) {
			logger.Info("ignoring trailing bytes", zap.Int("count", len(b)-m.Size()))
		}
		return printer(cmd.OutOrStdout())(render.NewRecord(&m))
	},
}

var sampleOut string

var genSampleCmd = &cobra.Command{
	Use:   "gen-sample",
	Short: "Write a storage file with one message of every kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(sampleOut)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := writeSample(dlt.NewStorageWriter(f), time.Now())
		if err != nil {
			return err
		}
		logger.Info("sample written", zap.String("file", sampleOut), zap.Int("messages", n))
		return nil
	},
}

func init() {
	genSampleCmd.Flags().StringVarP(&sampleOut, "out", "o", "sample.dlt", "output file")
}

func writeSample(sw *dlt.StorageWriter, now time.Time) (int, error) {
	ecu := dlt.MakeID(cfg.Daemon.ECUID)
	b := dlt.NewMessageBuilder(
		dlt.WithECUID(ecu),
		dlt.WithAppID(dlt.MakeID("SMPL")),
		dlt.WithContextID(dlt.MakeID("GEN")),
		dlt.WithTimestampProvider(dlt.NewUptimeClock()),
	)
	s := dlt.ServiceBuilderFor(b)

	steps := []func(buf []byte) (int, error){
		func(buf []byte) (int, error) { return b.LogFatal(buf, "fatal sample") },
		func(buf []byte) (int, error) { return b.LogError(buf, "error sample") },
		func(buf []byte) (int, error) { return b.LogWarn(buf, "warn sample") },
		func(buf []byte) (int, error) { return b.LogInfo(buf, "info sample") },
		func(buf []byte) (int, error) { return b.LogDebug(buf, "debug sample") },
		func(buf []byte) (int, error) { return b.LogVerbose(buf, "verbose sample") },
		func(buf []byte) (int, error) {
			return b.BuildArgs(buf, dlt.LogInfo,
				dlt.Bool(true), dlt.Int8(-8), dlt.Int16(-16), dlt.Int32(-32), dlt.Int64(-64),
				dlt.Uint8(8), dlt.Uint16(16), dlt.Uint32(32), dlt.Uint64(64), dlt.Uint128(1, 2),
				dlt.Float32(1.5), dlt.Float64(2.25), dlt.Str("text"), dlt.Raw([]byte{0xDE, 0xAD}))
		},
		func(buf []byte) (int, error) {
			return b.Build(buf, []byte{0x10, 0x00, 0x00, 0x00, 0x2A}, dlt.LogInfo, 0, false)
		},
		func(buf []byte) (int, error) {
			return s.SetLogLevelRequest(buf, dlt.MakeID("SMPL"), dlt.WildcardID, int8(dlt.LogDebug))
		},
		func(buf []byte) (int, error) { return s.StatusResponse(buf, dlt.ServiceSetLogLevel, dlt.StatusOk) },
		func(buf []byte) (int, error) {
			return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, []byte(cfg.Daemon.SoftwareVersion))
		},
		func(buf []byte) (int, error) {
			inv := dlt.Inventory{Apps: []dlt.AppInfo{{
				ID:       dlt.MakeID("SMPL"),
				Contexts: []dlt.ContextInfo{{ID: dlt.MakeID("GEN"), LogLevel: int8(dlt.LogInfo), TraceStatus: dlt.TraceStatusOff}},
			}}}
			return s.GetLogInfoInventoryResponse(buf, dlt.StatusWithLogLevelAndTraceStatus, &inv)
		},
	}

	buf := make([]byte, dlt.MaxMessageSize)
	for i, step := range steps {
		n, err := step(buf)
		if err != nil {
			return i, fmt.Errorf("sample %d: %w", i, err)
		}
		t := now.Add(time.Duration(i) * time.Millisecond)
		if err := sw.Write(dlt.NewStorageHeader(t, ecu), buf[:n]); err != nil {
			return i, err
		}
	}
	return len(steps), nil
}
