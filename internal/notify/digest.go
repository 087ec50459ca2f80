package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

// DefaultSubjectTemplate is used when neither the config nor the purpose
// recipient file sets one.
const DefaultSubjectTemplate = "Ausschreibungen {purpose} - {date}"

const rule = "---------------------------------------------------------------"

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"stamp":  func(t time.Time) string { return t.Format("02.01.2006 15:04:05") },
	"orDash": orDash,
	"rule":   func() string { return rule },
	"status": statusLine,
}).Parse(`Dies ist eine automatisch generierte E-Mail.
Bitte nicht direkt antworten.
Bei Rückfragen bitte an den Administrator wenden.

Stand: {{stamp .GeneratedAt}}

{{rule}}
Durchsuchte Portale ({{.Ran}} durchsucht, {{.Succeeded}} erfolgreich, {{.Failed}} fehlgeschlagen)
{{rule}}
{{range .Summary}}{{status .}}
{{end}}
{{if .Records}}{{rule}}
NEUE AUSSCHREIBUNGEN ({{len .Records}} gefunden)
{{rule}}
{{range .Records}}
Titel:	 {{orDash .Title}}
Ausschreibungsstelle:	 {{orDash .Organization}}
Link:	 {{orDash .URL}}
Nächste Frist:	 {{orDash .Deadline}}
Veröffentlicht:	 {{orDash .Published}}
Portal:	 {{.Source}}
{{end}}{{else}}{{rule}}
Keine neuen Ausschreibungen gefunden
{{rule}}
{{end}}
{{rule}}
{{.Footer}}
{{rule}}
`))

type digestView struct {
	Selection
	Ran       int
	Succeeded int
	Failed    int
	Footer    string
}

// RenderDigest renders the German plain-text digest body.
func RenderDigest(sel Selection, footer string) (string, error) {
	view := digestView{Selection: sel, Footer: footer}
	if view.Footer == "" {
		view.Footer = "tender-watch"
	}
	for _, st := range sel.Summary {
		if !st.Ran() {
			continue
		}
		view.Ran++
		if st.OK() {
			view.Succeeded++
		} else {
			view.Failed++
		}
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

// RenderSubject expands {date}, {purpose} and {count} in tmpl.
func RenderSubject(tmpl, purpose string, count int, now time.Time) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultSubjectTemplate
	}
	return strings.NewReplacer(
		"{date}", now.Format("02.01.2006"),
		"{purpose}", purpose,
		"{count}", strconv.Itoa(count),
	).Replace(tmpl)
}

func statusLine(st tender.SourceStatus) string {
	switch {
	case !st.Ran():
		return fmt.Sprintf("- %s - nicht durchsucht", st.Source)
	case st.OK():
		return fmt.Sprintf("✓ %s - %d Ergebnisse", st.Source, st.Run.RecordsNew)
	default:
		detail := strings.TrimSpace(st.Run.ErrorDetail)
		if detail == "" {
			detail = "Unbekannter Fehler"
		}
		return fmt.Sprintf("✗ %s - Fehler: %s", st.Source, detail)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
