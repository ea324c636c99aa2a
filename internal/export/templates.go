package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"taskboard/api/internal/reconcile"
	"taskboard/api/internal/tasks"
)

//go:embed templates/*.html
var templateFS embed.FS

var taskTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"paragraphs": paragraphs,
		"join":       strings.Join,
		"inc":        func(i int) int { return i + 1 },
	}

	templateContent, err := templateFS.ReadFile("templates/task.html")
	if err != nil {
		taskTemplate = template.Must(template.New("task").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	taskTemplate = template.Must(template.New("task").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for task sheet rendering
type TemplateData struct {
	Title        string
	Description  string
	DueDate      string
	Instructions string
	Criteria     string
	Todolist     []string
	Materials    []tasks.Material
	Themes       []reconcile.AnnotatedTheme
	Groups       []tasks.Group
	GeneratedAt  time.Time
}

func RenderTaskHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := taskTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// paragraphs splits free text on blank lines.
func paragraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	out := make([]string, 0)
	for _, block := range strings.Split(normalized, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  {{if .DueDate}}<p>Due {{.DueDate}}</p>{{end}}
  {{range paragraphs .Instructions}}<p>{{.}}</p>{{end}}
  <h2>Themes</h2>
  <ul>{{range .Themes}}<li>{{.Title}}{{if not .Available}} (taken){{end}}</li>{{end}}</ul>
  <h2>Registered groups</h2>
  <ul>{{range .Groups}}<li>{{.Name}}: {{.Theme}}</li>{{end}}</ul>
</body>
</html>`
