package export

import (
	"bytes"
	"html/template"
	"strings"
)

var gridTemplate = template.Must(template.New("grid").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(gridHTML))

// RenderGridHTML renders the grid template with provided data
func RenderGridHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := gridTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const gridHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2rem; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 0.35rem 0.6rem; text-align: left; vertical-align: top; }
    th { background: #f5f5f5; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{if .ExportedBy}}{{.ExportedBy}} | {{end}}{{.ExportedAt.Format "Jan 2, 2006 15:04 MST"}} | {{len .Rows}} rows</div>
  <table>
    <thead><tr>{{range .Columns}}<th class="field-{{.Type | lower}}">{{.Name}}</th>{{end}}</tr></thead>
    <tbody>
    {{range .Rows}}<tr data-row="{{.ID}}">{{range .Cells}}<td>{{.}}</td>{{end}}</tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>`
