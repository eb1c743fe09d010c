package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath        string
	logLevel          string
	monitoringAddress string
	noTransform       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "vidrelay <source> <sink> [log-file]",
		Short: "Capture, transform, encode and republish a live video stream",
		Long: `vidrelay reads raw frames from a capture device or a network input,
optionally runs them through a filter chain, encodes them and publishes the
result. Input and output failures are retried until the process is stopped.

Sources: /dev/videoN, v4l2:///dev/videoN, tcp://host:port, rtp://host:port
Sinks:   rtp://host:port, tcp://host:port`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreamer(cmd.Context(), opts, args)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "configs/vidrelay.yaml", "Configuration file path")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override logging.level")
	flags.StringVar(&opts.monitoringAddress, "monitoring-address", "", "Serve the admin API on this address")
	flags.BoolVar(&opts.noTransform, "no-transform", false, "Bypass the filter chain")

	return rootCmd
}
