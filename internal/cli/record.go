package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/minutes-core/internal/audio"
	"github.com/loqalabs/minutes-core/internal/bus"
	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/session"
	"github.com/loqalabs/minutes-core/internal/stt"
	"github.com/loqalabs/minutes-core/internal/token"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		flags         meetingFlags
		saveWAV       string
		transcriptOut string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting until Ctrl+C, then write its minutes",
		Long:  "Captures audio from the configured device and streams it for live transcription. Press Ctrl+C to stop; the transcript is then formatted into minutes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := flags.metadata()
			if err != nil {
				return err
			}
			transcript, err := record(cmd.Context(), deps, saveWAV)
			if err != nil {
				return err
			}
			if transcriptOut != "" {
				if err := os.WriteFile(transcriptOut, []byte(transcript+"\n"), 0o644); err != nil {
					return fmt.Errorf("writing transcript: %w", err)
				}
			}
			return produceAndWrite(context.WithoutCancel(cmd.Context()), deps, transcript, meta, flags.out)
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&saveWAV, "save-wav", "", "Also save the captured audio to this WAV file")
	cmd.Flags().StringVar(&transcriptOut, "transcript-out", "", "Also save the raw transcript to this file")
	return cmd
}

// record runs one session until interrupted or until the input ends, and
// returns the finished transcript. A session that aborts keeps what was
// transcribed so far.
func record(ctx context.Context, deps *Dependencies, saveWAV string) (string, error) {
	cfg := deps.Config
	device, err := audio.NewDevice(cfg.Audio)
	if err != nil {
		return "", err
	}

	busClient, err := connectBus(cfg.Bus, deps.Logger)
	if err != nil {
		return "", err
	}
	defer busClient.Close()

	opts := session.Options{
		Credentials: newCredentials(cfg.Deepgram),
		Device:      device,
		Client:      stt.NewClient(stt.OptionsFromConfig(cfg.Deepgram, cfg.Audio), deps.Logger),
		Bus:         busClient,
		BlockSize:   cfg.Audio.BlockSize,
	}
	if saveWAV != "" {
		f, err := os.Create(saveWAV)
		if err != nil {
			return "", fmt.Errorf("creating wav file: %w", err)
		}
		defer f.Close()
		opts.Tap = f
	}

	rec := session.New(opts, deps.Logger)
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rec.Start(sigCtx); err != nil {
		return "", err
	}
	fmt.Fprintln(deps.Out, "Recording. Press Ctrl+C to stop.")

	select {
	case <-sigCtx.Done():
	case <-rec.Done():
	}
	transcript, stopErr := rec.Stop()
	if stopErr != nil {
		deps.Logger.Warn("recording did not shut down cleanly", slog.String("error", stopErr.Error()))
	}
	if st := rec.Status(); st.Err != nil {
		fmt.Fprintln(deps.Err, "Warning: recording ended early:", st.Err)
	}
	if transcript == "" {
		return "", errors.New("no speech was transcribed")
	}
	return transcript, nil
}

// newCredentials picks how the recorder obtains its streaming secret: a
// fixed development key, this service's token endpoint, or the provider's
// management API directly.
func newCredentials(dg config.DeepgramConfig) *token.Broker {
	opts := []token.BrokerOption{token.WithDuration(dg.DefaultDuration)}
	var issuer token.Issuer
	switch {
	case dg.DirectKey != "":
		opts = append(opts, token.WithStaticKey(dg.DirectKey))
	case dg.TokenEndpoint != "":
		issuer = &token.ServerIssuer{Endpoint: dg.TokenEndpoint}
	default:
		issuer = &token.ProviderIssuer{APIBase: dg.APIBase, APIKey: dg.APIKey, ProjectID: dg.ProjectID}
	}
	return token.NewBroker(issuer, opts...)
}

// connectBus joins an external bus when one is configured. The CLI never
// starts an embedded server, so an embedded-only setup yields no bus.
func connectBus(cfg config.BusConfig, logger *slog.Logger) (*bus.Client, error) {
	if !cfg.Enabled || cfg.Embedded {
		return nil, nil
	}
	client, err := bus.Connect(cfg, logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}
	return client, nil
}
