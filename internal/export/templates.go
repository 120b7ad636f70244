package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var printFuncs = template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
	"wordLabel": wordLabel,
}

var documentTemplate = template.Must(
	template.New("document.html").Funcs(printFuncs).ParseFS(templateFS, "templates/document.html"),
)

// TemplateData feeds the print layout shared by PDF and DOCX exports.
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
	WordCount   int
}

func wordLabel(n int) string {
	if n == 1 {
		return "1 word"
	}
	return strconv.Itoa(n) + " words"
}

// RenderDocumentHTML renders the print template. ContentHTML must already be
// sanitized.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
