// Package report renders the per-submission HTML report written as
// results.html.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

//go:embed templates/*.html
var templates embed.FS

// HTMLRenderer renders reports with the embedded hpo_report template.
type HTMLRenderer struct {
	tmpl *template.Template
}

// NewHTMLRenderer parses the embedded template.
func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("hpo_report.html").Funcs(template.FuncMap{
		"columns": columns,
		"cell":    cell,
		"check":   check,
		"dict":    dict,
	}).ParseFS(templates, "templates/hpo_report.html")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

// Render executes the template for r.
func (h *HTMLRenderer) Render(r *model.Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// columns returns the sorted union of keys across rows.
func columns(rows []model.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func cell(row model.Row, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func check(flag int) string {
	if flag == 1 {
		return "✔"
	}
	return "✘"
}

// dict builds a map from alternating keys and values for sub-templates.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict: odd number of arguments")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", pairs[i])
		}
		m[k] = pairs[i+1]
	}
	return m, nil
}
