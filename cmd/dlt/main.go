package main

import (
	"fmt"
	"os"

	"github.com/eshenhu/dlt/internal/config"
	"github.com/eshenhu/dlt/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dlt",
	Short: "AUTOSAR DLT daemon, viewer and control client",
	Long: `dlt speaks the AUTOSAR Diagnostic Log and Trace protocol.

It runs a daemon fanning log messages out to TCP clients, views live
traffic or storage files, and sends control requests to a daemon.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err = logging.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error, overrides the file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(parseHexCmd)
	rootCmd.AddCommand(genSampleCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(bridgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
