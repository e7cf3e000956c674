package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drksbr/facecam/internal/capture"
	"github.com/drksbr/facecam/internal/runtime"
	"github.com/drksbr/facecam/internal/sink"
	"github.com/drksbr/facecam/internal/version"
)

func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the command line with ctx as every command's context;
// cancelling it stops the capture loop and the sink.
func ExecuteContext(ctx context.Context) error {
	opts := &runtime.Options{}
	cmd := newRootCommand(opts)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(opts *runtime.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "facecam",
		Short:        "Capture camera frames and upload them for face recognition",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.SetupLogger()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env when present)")
	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "emit logs in JSON format")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")

	cmd.AddCommand(capture.NewRunCommand(opts))
	cmd.AddCommand(capture.NewSnapCommand(opts))
	cmd.AddCommand(sink.NewCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})

	return cmd
}
