package output

import (
	"bytes"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// TemplateFormatter renders a report with a text/template.
type TemplateFormatter struct {
	text     string
	template *template.Template
	mu       sync.Mutex
}

// NewTemplateFormatter returns a formatter for the template text.
func NewTemplateFormatter(text string) *TemplateFormatter {
	return &TemplateFormatter{text: text}
}

// SetTemplate replaces the template text.
func (f *TemplateFormatter) SetTemplate(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{date .CreatedAt "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		// {{bytes .Size}}
		"bytes": types.FormatSize,
		// {{shquote .Destination}}
		"shquote": shellQuote,
		"upper":   strings.ToUpper,
	}
}

// Format implements Formatter.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.text)
		if err != nil {
			return err
		}
		f.template = tmpl
	}
	return f.template.Execute(w, r)
}

const defaultTemplate = `{{range .Rows}}{{.Action}}	{{bytes .Size}}	{{.ID}}
{{end}}`

func init() {
	Register("template", func() Formatter { return NewTemplateFormatter(defaultTemplate) })
}

var _ Formatter = (*TemplateFormatter)(nil)
