package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIURL     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Station service supervisor",
		Long:          "warden starts, monitors, and restarts the station's capture and processing services,\nand exposes their health, metrics, and circuit breaker state over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "/etc/warden/warden.toml", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIURL, "api", "http://127.0.0.1:8085", "base URL of a running daemon")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "HTTP timeout for daemon requests")

	root.AddCommand(
		createServeCommand(flags),
		createStatusCommand(flags),
		createHealthCommand(flags),
		createSummaryCommand(flags),
		createStartCommand(flags),
		createStopCommand(flags),
		createBreakersCommand(flags),
	)
	return root
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show runtime status of one service or all services",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			var v any
			var err error
			if name == "" {
				v, err = c.Statuses()
			} else {
				v, err = c.Status(name)
			}
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func createHealthCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the aggregate health report",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			rep, err := c.Health()
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}

func createSummaryCommand(flags *GlobalFlags) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show windowed metric summaries",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			snap, err := c.Summary(window)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 5*time.Minute, "time window for summaries")
	return cmd
}

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a service on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			if err := c.Start(args[0]); err != nil {
				return err
			}
			fmt.Printf("started %s\n", args[0])
			return nil
		},
	}
}

func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a service on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			if err := c.Stop(args[0]); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
}

func createBreakersCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breaker states",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c := NewAPIClient(flags.APIURL, flags.APITimeout)
			sts, err := c.Breakers()
			if err != nil {
				return err
			}
			return printJSON(sts)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
