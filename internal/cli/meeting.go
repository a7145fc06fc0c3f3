package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/minutes-core/internal/llm"
	"github.com/loqalabs/minutes-core/internal/minutes"
)

// meetingFlags are the meeting details shared by every command that writes
// minutes.
type meetingFlags struct {
	date      string
	kind      string
	chair     string
	present   string
	apologies string
	minutesBy string
	out       string
}

func (f *meetingFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Meeting date, e.g. 2025-08-19")
	cmd.Flags().StringVarP(&f.kind, "type", "t", "Meeting", "Meeting type: Meeting, Practice, Committee, Performance or Special")
	cmd.Flags().StringVar(&f.chair, "chair", "", "Chairperson")
	cmd.Flags().StringVar(&f.present, "present", "", "Members present")
	cmd.Flags().StringVar(&f.apologies, "apologies", "", "Apologies received")
	cmd.Flags().StringVar(&f.minutesBy, "minutes-by", "", "Minutes taker")
	cmd.Flags().StringVarP(&f.out, "out", "o", "minutes.html", "Where to write the minutes document")
}

func (f *meetingFlags) metadata() (minutes.Metadata, error) {
	mt, err := minutes.ParseMeetingType(f.kind)
	if err != nil {
		return minutes.Metadata{}, err
	}
	meta := minutes.Metadata{
		Date:        f.date,
		Type:        mt,
		Chairperson: f.chair,
		Present:     f.present,
		Apologies:   f.apologies,
		MinutesBy:   f.minutesBy,
	}
	if err := minutes.ValidateMeeting(meta); err != nil {
		return minutes.Metadata{}, err
	}
	return meta, nil
}

// newProducer formats through the daemon when a formatter URL is set and
// with a local model backend otherwise.
func newProducer(deps *Dependencies) (minutes.Producer, error) {
	cfg := deps.Config
	if cfg.Minutes.FormatterURL != "" {
		return minutes.NewRemoteFormatter(cfg.Minutes.FormatterURL, cfg.LLM.Timeout), nil
	}
	generator, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return minutes.NewFormatter(generator, cfg.LLM, cfg.Minutes, deps.Logger), nil
}

// produceAndWrite runs the formatting pipeline and writes the document.
func produceAndWrite(ctx context.Context, deps *Dependencies, transcript string, meta minutes.Metadata, out string) error {
	producer, err := newProducer(deps)
	if err != nil {
		return err
	}
	pipeline := minutes.NewPipeline(producer, minutes.LimitsFromConfig(deps.Config.Minutes), deps.Logger)
	res, err := pipeline.Produce(ctx, transcript, meta)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		fmt.Fprintln(deps.Err, "Warning:", res.Warning)
	}
	return writeDocument(deps, meta, res.Minutes, out)
}

func writeDocument(deps *Dependencies, meta minutes.Metadata, m minutes.FormattedMinutes, out string) error {
	doc, err := minutes.RenderDocument(deps.Config.Minutes.ClubName, meta, m)
	if err != nil {
		return err
	}
	if out == "-" {
		_, err = deps.Out.Write(doc)
		return err
	}
	if err := os.WriteFile(out, doc, 0o644); err != nil {
		return fmt.Errorf("writing minutes: %w", err)
	}
	fmt.Fprintf(deps.Out, "Minutes written to %s\n", out)
	if m.Summary != "" {
		fmt.Fprintln(deps.Out, m.Summary)
	}
	return nil
}

// readTranscript reads a transcript file, or stdin when path is "-".
func readTranscript(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
