package minutes

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	FallbackSummary = "Meeting minutes generated from transcript. Professional formatting was not available."
	FallbackWarning = "AI formatting unavailable. Generated basic format from transcript."

	minFallbackPiece  = 10
	emptyFallbackItem = "No discussion could be recovered from the transcript"
)

var (
	sentenceEnd = regexp.MustCompile(`[.!?]+`)
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// Fallback builds minutes without a model, using the default limits.
func Fallback(transcript string) FormattedMinutes {
	return DefaultLimits().Fallback(transcript)
}

// Fallback splits the transcript into sentences, drops fragments shorter
// than ten characters and numbers the first FallbackMaxItems that remain
// as agenda items. When no fragment is long enough the whole transcript
// becomes the single item. The output has the same shape as model output.
func (l Limits) Fallback(transcript string) FormattedMinutes {
	var items []string
	for _, piece := range sentenceEnd.Split(transcript, -1) {
		piece = strings.TrimSpace(piece)
		if utf8.RuneCountInString(piece) < minFallbackPiece {
			continue
		}
		items = append(items, agendaItem(len(items)+1, piece))
		if len(items) == l.FallbackMaxItems {
			break
		}
	}
	if len(items) == 0 {
		items = append(items, agendaItem(1, wholeTranscript(transcript)))
	}
	return FormattedMinutes{
		HTMLContent: strings.Join(items, "\n\n"),
		Summary:     FallbackSummary,
	}
}

func agendaItem(n int, text string) string {
	return fmt.Sprintf("%s\n<span class=\"agenda-number\">%d.</span>\n%s.\n</div>",
		AgendaMarker, n, textEscaper.Replace(text))
}

// wholeTranscript collapses whitespace and drops trailing punctuation so
// the item reads as one sentence.
func wholeTranscript(transcript string) string {
	text := strings.TrimRightFunc(strings.Join(strings.Fields(transcript), " "), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(".!?", r)
	})
	if text == "" {
		return emptyFallbackItem
	}
	return text
}
