package feed

import (
	"bytes"
	"html"
	"html/template"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter turns source code into an HTML fragment.
type Highlighter interface {
	Highlight(code string) string
}

// ChromaHighlighter renders code with inline styles so the fragment needs no
// stylesheet on the dashboard.
type ChromaHighlighter struct {
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// NewChromaHighlighter falls back to plain text for an unknown language and to
// chroma's default style for an unknown style name.
func NewChromaHighlighter(language, style string) *ChromaHighlighter {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return &ChromaHighlighter{
		lexer:     chroma.Coalesce(lexer),
		style:     styles.Get(style),
		formatter: chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4)),
	}
}

func (h *ChromaHighlighter) Highlight(code string) string {
	iterator, err := h.lexer.Tokenise(nil, code)
	if err != nil {
		return plainCode(code)
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return plainCode(code)
	}
	return buf.String()
}

func plainCode(code string) string {
	return "<pre>" + html.EscapeString(code) + "</pre>"
}

type row struct {
	ID     string
	Code   template.HTML
	Retval template.HTML
}

// Field values are trusted HTML produced by the highlighter or by the action
// host; only the id is escaped.
var tableTmpl = template.Must(template.New("table").Parse(
	`<table class="feed"><thead><tr><th>code</th><th>retval</th></tr></thead><tbody>` +
		`{{range .}}<tr data-id="{{.ID}}"><td class="code">{{.Code}}</td><td class="retval">{{.Retval}}</td></tr>{{end}}` +
		`</tbody></table>`))

func renderTable(entries []*Entry) (string, error) {
	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = row{
			ID:     e.ID,
			Code:   template.HTML(e.Code.Rendered),
			Retval: template.HTML(e.Retval.Rendered),
		}
	}
	var b strings.Builder
	if err := tableTmpl.Execute(&b, rows); err != nil {
		return "", err
	}
	return b.String(), nil
}
