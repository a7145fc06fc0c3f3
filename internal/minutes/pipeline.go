package minutes

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Producer formats a transcript. Formatter and RemoteFormatter both
// satisfy it.
type Producer interface {
	Format(ctx context.Context, transcript string, meta Metadata) (FormattedMinutes, error)
}

// Pipeline validates input, tries the model, substitutes the fallback on
// any formatting failure and sanitizes whichever result it got.
type Pipeline struct {
	producer Producer
	limits   Limits
	logger   *slog.Logger
	requests metric.Int64Counter
}

func NewPipeline(producer Producer, limits Limits, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		producer: producer,
		limits:   limits,
		logger:   logger.With(slog.String("component", "minutes-pipeline")),
	}
	counter, err := otel.Meter("github.com/loqalabs/minutes-core/minutes").Int64Counter(
		"minutes.format.requests",
		metric.WithDescription("Minutes produced, by formatting path"),
	)
	if err == nil {
		p.requests = counter
	}
	return p
}

// Produce returns sanitized minutes. Only input validation errors are
// returned; every later failure degrades to the fallback with a warning.
func (p *Pipeline) Produce(ctx context.Context, transcript string, meta Metadata) (Result, error) {
	if err := p.limits.ValidateInput(transcript, meta); err != nil {
		return Result{}, err
	}

	res := Result{Source: SourceAI}
	out, err := p.producer.Format(ctx, transcript, meta)
	if err != nil {
		p.logger.Warn("AI formatting failed, using fallback", slogError(err))
		out = p.limits.Fallback(transcript)
		res.Source = SourceFallback
		res.Warning = FallbackWarning
	}
	res.Minutes = p.limits.Sanitize(out)

	if p.requests != nil {
		p.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(res.Source))))
	}
	return res, nil
}
