// Package cli implements the operator command line: record a meeting,
// format a saved transcript, or build fallback minutes offline.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/minutes-core/internal/config"
)

// Dependencies is filled in once flags are parsed, before any subcommand
// runs.
type Dependencies struct {
	Config config.Config
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer
}

func NewRootCmd(version string, out, errOut io.Writer) *cobra.Command {
	deps := &Dependencies{Out: out, Err: errOut}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "minutes",
		Short:         "Record club meetings and write their minutes",
		Long:          "Streams a meeting to the transcription provider, then turns the transcript into numbered agenda-item minutes as a standalone HTML page.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			deps.Config = cfg
			deps.Logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("minutes {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewFormatCmd(deps))
	rootCmd.AddCommand(NewFallbackCmd(deps))
	rootCmd.AddCommand(newVersionCmd(version))

	return rootCmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "minutes %s\n", version)
			return err
		},
	}
}
