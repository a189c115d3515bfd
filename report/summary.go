package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// SummaryView is the printable form of an import result.
type SummaryView struct {
	CategoryName string
	Strategy     string
	NewCount     int
	UpdateCount  int
	SkippedCount int
	Created      []string
	Updated      []string
	Skipped      []string
	Rejections   []RejectionLine
	Warnings     []string
	GeneratedAt  time.Time
}

// RejectionLine is a CSV row left out of the import.
type RejectionLine struct {
	Line   int
	PartNo string
	Reason string
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Import summary</title>
<style>
body{font-family:sans-serif;font-size:12px}
table{border-collapse:collapse}
td,th{border:1px solid #999;padding:2px 6px;text-align:left}
</style></head><body>
<h1>Import summary</h1>
<p>Category: <strong>{{.CategoryName}}</strong>. Quantity strategy: {{.Strategy}}. Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}.</p>
<table>
<tr><th>Created</th><td>{{.NewCount}}</td></tr>
<tr><th>Updated</th><td>{{.UpdateCount}}</td></tr>
<tr><th>Skipped</th><td>{{.SkippedCount}}</td></tr>
</table>
{{if .Created}}<h2>Created</h2><ul>{{range .Created}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Updated}}<h2>Updated</h2><ul>{{range .Updated}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Skipped}}<h2>Skipped</h2><ul>{{range .Skipped}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Rejections}}<h2>Rows not imported</h2>
<table><tr><th>Line</th><th>Part number</th><th>Reason</th></tr>
{{range .Rejections}}<tr><td>{{.Line}}</td><td>{{.PartNo}}</td><td>{{.Reason}}</td></tr>{{end}}
</table>{{end}}
{{if .Warnings}}<h2>Warnings</h2><ul>{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>{{end}}
</body></html>
`))

// ImportSummaryHTML renders view as a standalone HTML page.
func ImportSummaryHTML(view SummaryView) (string, error) {
	if view.GeneratedAt.IsZero() {
		view.GeneratedAt = time.Now()
	}
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("report: render summary: %w", err)
	}
	return buf.String(), nil
}
