package minutes

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/minutes-core/internal/config"
	"github.com/loqalabs/minutes-core/internal/fault"
)

// Limits bounds transcript input and minutes output.
type Limits struct {
	MaxTranscript    int
	MaxHTML          int
	MaxSummary       int
	FallbackMaxItems int
}

func DefaultLimits() Limits {
	return Limits{MaxTranscript: 50000, MaxHTML: 10000, MaxSummary: 1000, FallbackMaxItems: 8}
}

func LimitsFromConfig(cfg config.MinutesConfig) Limits {
	l := DefaultLimits()
	if cfg.MaxTranscript > 0 {
		l.MaxTranscript = cfg.MaxTranscript
	}
	if cfg.MaxHTML > 0 {
		l.MaxHTML = cfg.MaxHTML
	}
	if cfg.MaxSummary > 0 {
		l.MaxSummary = cfg.MaxSummary
	}
	if cfg.FallbackMaxItems > 0 {
		l.FallbackMaxItems = cfg.FallbackMaxItems
	}
	return l
}

// ValidateTranscript rejects empty and oversized transcripts. Length is
// counted in characters, not bytes.
func (l Limits) ValidateTranscript(transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return fault.Validation("Transcript is required and cannot be empty")
	}
	if utf8.RuneCountInString(transcript) > l.MaxTranscript {
		return fault.Validation(fmt.Sprintf("Transcript too long. Maximum %s characters.", groupThousands(l.MaxTranscript)))
	}
	return nil
}

// ValidateMeeting requires the people the minutes are signed off by.
func ValidateMeeting(meta Metadata) error {
	if strings.TrimSpace(meta.Chairperson) == "" || strings.TrimSpace(meta.MinutesBy) == "" {
		return fault.Validation("Meeting chairperson and minutes taker are required")
	}
	return nil
}

// ValidateInput runs every input check done before formatting.
func (l Limits) ValidateInput(transcript string, meta Metadata) error {
	if err := l.ValidateTranscript(transcript); err != nil {
		return err
	}
	return ValidateMeeting(meta)
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	if n < 0 || len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
