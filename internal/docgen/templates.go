package docgen

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData holds data for controlled document rendering
type TemplateData struct {
	ProjectCode     string
	ProjectTitle    string
	ItemFullID      string
	ItemTitle       string
	Version         int
	ChangeType      string
	ContentHTML     template.HTML
	Attachments     []string
	RelatedItems    []TemplateRelated
	SubmittedByName string
	SubmitReason    string
	ReviewedByName  string
	ReviewNote      string
	ApprovedAt      time.Time
	Changes         []TemplateChange
}

// TemplateRelated holds one related item reference for rendering
type TemplateRelated struct {
	FullID      string
	Title       string
	Description string
}

// TemplateChange holds one field delta for the change summary table
type TemplateChange struct {
	Field string
	Old   string
	New   string
}

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(controlledDocTemplate))

// RenderDocumentHTML renders the controlled document template
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const controlledDocTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ItemFullID}} v{{.Version}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9em; }
    th { background: #f0f0f0; }
    .signoff { margin-top: 2rem; padding: 1rem; background: #f5f5f5; border-left: 3px solid #333; }
    .related { margin: 1rem 0; }
  </style>
</head>
<body>
  <h1>{{.ItemFullID}}: {{.ItemTitle}}</h1>
  <div class="meta">
    {{.ProjectCode}} — {{.ProjectTitle}}<br>
    Version {{.Version}} ({{.ChangeType}}) | Approved {{formatDate .ApprovedAt "Jan 2, 2006 15:04 MST"}}
  </div>

  <div>{{.ContentHTML}}</div>

  {{if .Attachments}}
  <h2>Attachments</h2>
  <ul>
  {{range .Attachments}}<li>{{.}}</li>{{end}}
  </ul>
  {{end}}

  {{if .RelatedItems}}
  <h2>Related Items</h2>
  <table class="related">
    <tr><th>ID</th><th>Title</th><th>Relation</th></tr>
    {{range .RelatedItems}}<tr><td>{{.FullID}}</td><td>{{.Title}}</td><td>{{.Description}}</td></tr>{{end}}
  </table>
  {{end}}

  {{if .Changes}}
  <h2>Change Summary</h2>
  <table>
    <tr><th>Field</th><th>Previous</th><th>New</th></tr>
    {{range .Changes}}<tr><td>{{.Field}}</td><td>{{.Old}}</td><td>{{.New}}</td></tr>{{end}}
  </table>
  {{end}}

  <div class="signoff">
    <strong>Submitted by:</strong> {{.SubmittedByName}}{{if .SubmitReason}} — {{.SubmitReason}}{{end}}<br>
    <strong>Approved by:</strong> {{.ReviewedByName}}{{if .ReviewNote}} — {{.ReviewNote}}{{end}}
  </div>
</body>
</html>`
