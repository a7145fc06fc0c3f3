package minutes

import (
	"html"
	"regexp"
	"strings"
)

var (
	agendaBlock   = regexp.MustCompile(`(?s)<div class="agenda-item">(.*?)</div>`)
	agendaNumber  = regexp.MustCompile(`<span class="agenda-number">\d+\.</span>`)
	anyTag        = regexp.MustCompile(`<[^>]+>`)
	sentenceSplit = regexp.MustCompile(`[^.!?]+[.!?]*`)
	leadingName   = regexp.MustCompile(`((?:[A-Z][a-z'’-]+\s+){0,2}[A-Z][a-z'’-]+)$`)
)

var (
	decisionWords = []string{"agreed", "decided", "resolved", "approved", "voted", "carried", "moved that"}
	actionPhrases = []string{
		"asked to", "volunteered to", "will organise", "will organize", "will arrange",
		"will contact", "will follow up", "is responsible for", "are responsible for",
		"please let", "to follow up",
	}
	nextMeetingWords = []string{"next meeting", "next practice", "next rehearsal"}
	auxiliaries      = []string{"has been", "have been", "was", "were", "is", "are"}
)

// Extract fills Decisions, ActionItems and NextMeeting from the agenda
// text when the model did not provide them. The results are best effort:
// sentences are matched on wording, not understood.
func Extract(m *FormattedMinutes) {
	if len(m.Decisions) > 0 || len(m.ActionItems) > 0 || m.NextMeeting != "" {
		return
	}
	for _, sentence := range agendaSentences(m.HTMLContent) {
		lower := strings.ToLower(sentence)
		if m.NextMeeting == "" && containsAny(lower, nextMeetingWords) {
			m.NextMeeting = sentence
			continue
		}
		if phrase, ok := firstContained(lower, actionPhrases); ok {
			m.ActionItems = append(m.ActionItems, ActionItem{
				Description: sentence,
				Assignee:    assigneeBefore(sentence, strings.Index(lower, phrase)),
			})
			continue
		}
		if containsAny(lower, decisionWords) {
			m.Decisions = append(m.Decisions, sentence)
		}
	}
}

func agendaSentences(content string) []string {
	var out []string
	for _, block := range agendaBlock.FindAllStringSubmatch(content, -1) {
		text := agendaNumber.ReplaceAllString(block[1], "")
		text = html.UnescapeString(anyTag.ReplaceAllString(text, ""))
		text = strings.Join(strings.Fields(text), " ")
		for _, s := range sentenceSplit.FindAllString(text, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// assigneeBefore returns the capitalised name that directly precedes the
// action phrase, if any.
func assigneeBefore(sentence string, idx int) string {
	if idx <= 0 || idx > len(sentence) {
		return ""
	}
	prefix := strings.TrimSpace(sentence[:idx])
	for _, aux := range auxiliaries {
		if strings.HasSuffix(prefix, " "+aux) {
			prefix = strings.TrimSpace(strings.TrimSuffix(prefix, aux))
			break
		}
	}
	m := leadingName.FindStringSubmatch(prefix)
	if m == nil {
		return ""
	}
	name := m[1]
	switch name {
	case "The", "We", "They", "It", "This", "Members", "Everyone":
		return ""
	}
	return name
}

func containsAny(s string, words []string) bool {
	_, ok := firstContained(s, words)
	return ok
}

func firstContained(s string, words []string) (string, bool) {
	for _, w := range words {
		if strings.Contains(s, w) {
			return w, true
		}
	}
	return "", false
}
