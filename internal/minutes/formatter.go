package minutes

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/fault"
	"github.com/loqalabs/minutes-core/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// AgendaMarker opens every agenda item. Output without it is rejected.
	AgendaMarker = `<div class="agenda-item">`

	SummaryPrefix    = "Meeting minutes processed successfully."
	summaryExcerpt   = 100
	defaultFormatCap = 60 * time.Second
)

var (
	firstItemText = regexp.MustCompile(`<span class="agenda-number">\d+\.</span>\s*([^<]+)`)
	codeFence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
)

// Formatter asks a language model to write the minutes.
type Formatter struct {
	generator llm.Generator
	defaults  llm.Request
	club      string
	limits    Limits
	timeout   time.Duration
	logger    *slog.Logger
}

func NewFormatter(generator llm.Generator, llmCfg config.LLMConfig, minutesCfg config.MinutesConfig, logger *slog.Logger) *Formatter {
	timeout := llmCfg.Timeout
	if timeout <= 0 {
		timeout = defaultFormatCap
	}
	return &Formatter{
		generator: generator,
		defaults:  llm.OptionsFromConfig(llmCfg),
		club:      minutesCfg.ClubName,
		limits:    LimitsFromConfig(minutesCfg),
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "minutes-formatter")),
	}
}

// Configured reports a missing provider secret without calling out.
func (f *Formatter) Configured() error {
	return llm.CheckConfigured(f.generator)
}

// Format validates the input, calls the model once and validates its
// output. Output without an agenda item fails with fault.ErrValidation;
// provider failures fail with fault.ErrProvider.
func (f *Formatter) Format(ctx context.Context, transcript string, meta Metadata) (FormattedMinutes, error) {
	if err := f.limits.ValidateInput(transcript, meta); err != nil {
		return FormattedMinutes{}, err
	}
	if err := f.Configured(); err != nil {
		return FormattedMinutes{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ctx, span := otel.Tracer("github.com/loqalabs/minutes-core/minutes").Start(ctx, "minutes.format")
	defer span.End()
	span.SetAttributes(
		attribute.String("meeting.type", string(meta.Type)),
		attribute.Int("transcript.chars", len(transcript)),
	)

	req := f.defaults
	req.Prompt = BuildPrompt(f.club, transcript, meta)

	start := time.Now()
	content, err := llm.Complete(ctx, f.generator, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		f.logger.Warn("minutes generation failed", slogError(err))
		switch {
		case errors.Is(err, fault.ErrProvider), errors.Is(err, fault.ErrConfig):
			return FormattedMinutes{}, err
		case errors.Is(err, context.DeadlineExceeded):
			return FormattedMinutes{}, fault.Wrap(fault.ErrProvider, "minutes generation timed out", err)
		default:
			return FormattedMinutes{}, fault.Wrap(fault.ErrProvider, "minutes generation failed", err)
		}
	}

	content = stripFences(strings.TrimSpace(content))
	if content == "" {
		span.SetStatus(codes.Error, "empty output")
		return FormattedMinutes{}, fault.Validation("No response from AI service")
	}
	if !strings.Contains(content, AgendaMarker) {
		span.SetStatus(codes.Error, "missing agenda items")
		f.logger.Warn("model output has no agenda items", slog.Int("chars", len(content)))
		f.logger.Debug("rejected model output", slog.String("content", content))
		return FormattedMinutes{}, fault.Validation("Invalid response format from AI service")
	}

	out := FormattedMinutes{HTMLContent: content, Summary: Summarize(content)}
	Extract(&out)
	f.logger.Info("minutes formatted", slog.Duration("latency", time.Since(start)))
	return out, nil
}

// Summarize builds the confirmation summary from the first agenda item.
func Summarize(html string) string {
	m := firstItemText.FindStringSubmatch(html)
	if m == nil {
		return SummaryPrefix
	}
	return SummaryPrefix + " " + truncateRunes(strings.TrimSpace(m[1]), summaryExcerpt) + "..."
}

// stripFences unwraps output the model put inside a markdown code block.
func stripFences(s string) string {
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
