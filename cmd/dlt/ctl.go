package main

import (
	"fmt"
	"strconv"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/control"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var ctlAddr string

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send control requests to a daemon",
}

// withControl connects to the daemon for the duration of f.
func withControl(f func(c control.Control) error) error {
	addr := cfg.Viewer.Addr
	if ctlAddr != "" {
		addr = ctlAddr
	}
	client := dlt.NewClient(logger, addr, dlt.WithClientSerialHeader(cfg.Viewer.SerialHeader))
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	return f(control.NewControl(logger, client,
		dlt.WithECUID(dlt.MakeID(cfg.Daemon.ECUID)),
		dlt.WithAppID(dlt.MakeID("DLTC")),
		dlt.WithContextID(dlt.MakeID("CTRL")),
	))
}

func parseInt8(s string, lo, hi int8) (int8, error) {
	v, err := strconv.ParseInt(s, 10, 8)
	if err != nil {
		return 0, err
	}
	if int8(v) < lo || int8(v) > hi {
		return 0, fmt.Errorf("%d out of range %d..%d", v, lo, hi)
	}
	return int8(v), nil
}

// optionalID maps "" and "*" to the wildcard.
func optionalID(args []string, i int) dlt.ID {
	if i >= len(args) || args[i] == "*" {
		return dlt.WildcardID
	}
	return dlt.MakeID(args[i])
}

var setLevelCmd = &cobra.Command{
	Use:   "set-level <app> <ctx> <level>",
	Short: "Set the log level of matching contexts, -1 restores the default",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseInt8(args[2], dlt.LogLevelDefault, int8(dlt.LogVerbose))
		if err != nil {
			return err
		}
		return withControl(func(c control.Control) error {
			return c.SetLogLevel(optionalID(args, 0), optionalID(args, 1), level)
		})
	},
}

var setTraceCmd = &cobra.Command{
	Use:   "set-trace <app> <ctx> <status>",
	Short: "Set the trace status of matching contexts",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseInt8(args[2], dlt.TraceStatusDefault, dlt.TraceStatusOn)
		if err != nil {
			return err
		}
		return withControl(func(c control.Control) error {
			return c.SetTraceStatus(optionalID(args, 0), optionalID(args, 1), status)
		})
	},
}

var defaultLevelCmd = &cobra.Command{
	Use:   "default-level [level]",
	Short: "Show or set the default log level",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			if len(args) == 1 {
				level, err := parseInt8(args[0], dlt.LogLevelOff, int8(dlt.LogVerbose))
				if err != nil {
					return err
				}
				return c.SetDefaultLogLevel(level)
			}
			level, err := c.GetDefaultLogLevel()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), level)
			return nil
		})
	},
}

var defaultTraceCmd = &cobra.Command{
	Use:   "default-trace [status]",
	Short: "Show or set the default trace status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			if len(args) == 1 {
				status, err := parseInt8(args[0], dlt.TraceStatusOff, dlt.TraceStatusOn)
				if err != nil {
					return err
				}
				return c.SetDefaultTraceStatus(status)
			}
			status, err := c.GetDefaultTraceStatus()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:       "filter <on|off>",
	Short:     "Switch message filtering",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("filter: %q is neither on nor off", args[0])
		}
		return withControl(func(c control.Control) error { return c.SetMessageFiltering(on) })
	},
}

var withDescriptions bool

var getInfoCmd = &cobra.Command{
	Use:   "get-info [app [ctx]]",
	Short: "List the registered applications and contexts",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		options := dlt.LogInfoWithLevels
		if withDescriptions {
			options = dlt.LogInfoWithDescriptions
		}
		return withControl(func(c control.Control) error {
			status, inv, err := c.GetLogInfo(options, optionalID(args, 0), optionalID(args, 1))
			if err != nil {
				return err
			}
			if status == dlt.StatusNoMatchingContexts || status == dlt.StatusOverflow {
				pterm.Warning.Println(status.String())
				return nil
			}
			rows := [][]string{{"App", "Ctx", "Level", "Trace", "Description"}}
			for _, a := range inv.Apps {
				for _, ctx := range a.Contexts {
					desc := ctx.Description
					if desc == "" {
						desc = a.Description
					}
					rows = append(rows, []string{
						a.ID.String(), ctx.ID.String(),
						strconv.Itoa(int(ctx.LogLevel)), strconv.Itoa(int(ctx.TraceStatus)), desc,
					})
				}
			}
			table, err := pterm.DefaultTable.WithHasHeader(true).WithData(rows).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the daemon software version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			v, err := c.GetSoftwareVersion()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the log channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			names, err := c.GetLogChannelNames()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		})
	},
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Persist the current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			if err := c.StoreConfiguration(); err != nil {
				return err
			}
			pterm.Success.Println("configuration stored")
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the factory defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(func(c control.Control) error {
			if err := c.ResetToFactoryDefault(); err != nil {
				return err
			}
			pterm.Success.Println("factory defaults restored")
			return nil
		})
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVar(&ctlAddr, "addr", "", "daemon address")
	getInfoCmd.Flags().BoolVarP(&withDescriptions, "descriptions", "d", false, "request descriptions")

	ctlCmd.AddCommand(setLevelCmd)
	ctlCmd.AddCommand(setTraceCmd)
	ctlCmd.AddCommand(defaultLevelCmd)
	ctlCmd.AddCommand(defaultTraceCmd)
	ctlCmd.AddCommand(filterCmd)
	ctlCmd.AddCommand(getInfoCmd)
	ctlCmd.AddCommand(versionCmd)
	ctlCmd.AddCommand(channelsCmd)
	ctlCmd.AddCommand(storeCmd)
	ctlCmd.AddCommand(resetCmd)
}
