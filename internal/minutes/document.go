package minutes

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed document.tmpl
var documentSource string

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).Parse(documentSource))

// RenderDocument wraps minutes in a standalone HTML page with the meeting
// details table and sign-off lines. The agenda HTML is sanitized again
// before it is trusted by the template; everything else is escaped.
func RenderDocument(club string, meta Metadata, m FormattedMinutes) ([]byte, error) {
	clean := DefaultLimits().Sanitize(m)
	data := struct {
		Club    string
		Meta    Metadata
		Minutes FormattedMinutes
		Content template.HTML
	}{
		Club:    club,
		Meta:    meta,
		Minutes: clean,
		Content: template.HTML(clean.HTMLContent),
	}
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render minutes document: %w", err)
	}
	return buf.Bytes(), nil
}
