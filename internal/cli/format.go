package cli

import (
	"github.com/spf13/cobra"

	"github.com/loqalabs/minutes-core/internal/minutes"
)

func NewFormatCmd(deps *Dependencies) *cobra.Command {
	var flags meetingFlags

	cmd := &cobra.Command{
		Use:   "format <transcript-file>",
		Short: "Write minutes for a saved transcript",
		Long:  "Formats a transcript file (or - for stdin) into minutes. When the model is unavailable or answers in the wrong shape, fallback minutes are written instead and a warning is printed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := flags.metadata()
			if err != nil {
				return err
			}
			transcript, err := readTranscript(cmd, args[0])
			if err != nil {
				return err
			}
			return produceAndWrite(cmd.Context(), deps, transcript, meta, flags.out)
		},
	}
	flags.bind(cmd)
	return cmd
}

func NewFallbackCmd(deps *Dependencies) *cobra.Command {
	var flags meetingFlags

	cmd := &cobra.Command{
		Use:   "fallback <transcript-file>",
		Short: "Write sentence-split minutes without a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := flags.metadata()
			if err != nil {
				return err
			}
			transcript, err := readTranscript(cmd, args[0])
			if err != nil {
				return err
			}
			limits := minutes.LimitsFromConfig(deps.Config.Minutes)
			if err := limits.ValidateTranscript(transcript); err != nil {
				return err
			}
			return writeDocument(deps, meta, limits.Sanitize(limits.Fallback(transcript)), flags.out)
		},
	}
	flags.bind(cmd)
	return cmd
}
