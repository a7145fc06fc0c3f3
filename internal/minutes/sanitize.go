package minutes

import (
	"regexp"
	"strings"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptTag    = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	eventHandler = regexp.MustCompile(`(?i)(<[^>]*?)(?:\s+|([/"']))on[a-z0-9_]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]*)`)
	jsScheme     = regexp.MustCompile(`(?i)javascript\s*:`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Sanitize cleans minutes with the default limits.
func Sanitize(m FormattedMinutes) FormattedMinutes {
	return DefaultLimits().Sanitize(m)
}

// Sanitize removes script blocks, inline event handlers and javascript:
// links, then truncates. It never fails and is idempotent.
func (l Limits) Sanitize(m FormattedMinutes) FormattedMinutes {
	out := FormattedMinutes{
		HTMLContent: truncateRunes(stripActive(m.HTMLContent), l.MaxHTML),
		Summary:     cleanText(m.Summary, l.MaxSummary),
		NextMeeting: cleanText(m.NextMeeting, l.MaxSummary),
	}
	for _, d := range m.Decisions {
		if d = cleanText(d, l.MaxSummary); d != "" {
			out.Decisions = append(out.Decisions, d)
		}
	}
	for _, a := range m.ActionItems {
		item := ActionItem{
			Description: cleanText(a.Description, l.MaxSummary),
			Assignee:    cleanText(a.Assignee, l.MaxSummary),
		}
		if item.Description != "" {
			out.ActionItems = append(out.ActionItems, item)
		}
	}
	return out
}

// stripActive repeats the removals until nothing changes, so fragments
// that only form a match once an inner match is gone are caught too.
// Whole script blocks go first; stray script tags are dropped after.
func stripActive(s string) string {
	for {
		next := s
		for {
			inner := scriptBlock.ReplaceAllString(next, "")
			if inner == next {
				break
			}
			next = inner
		}
		next = scriptTag.ReplaceAllString(next, "")
		next = eventHandler.ReplaceAllString(next, "$1$2")
		next = jsScheme.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

func cleanText(s string, limit int) string {
	s = spaceRun.ReplaceAllString(stripActive(s), " ")
	s = truncateRunes(strings.TrimSpace(s), limit)
	return strings.TrimSpace(s)
}
