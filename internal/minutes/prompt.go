package minutes

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed prompt.tmpl
var promptSource string

var promptTemplate = template.Must(template.New("prompt").Parse(promptSource))

// BuildPrompt renders the single instruction prompt sent to the model: the
// output contract, the meeting context, then the trimmed transcript.
func BuildPrompt(club, transcript string, meta Metadata) string {
	var b strings.Builder
	data := struct {
		Club       string
		Meta       Metadata
		Transcript string
	}{Club: club, Meta: meta, Transcript: strings.TrimSpace(transcript)}
	if err := promptTemplate.Execute(&b, data); err != nil {
		// The template is fixed and the data has no methods that can fail.
		panic(err)
	}
	return b.String()
}
