// Package render produces item pages for each render strategy.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"sort"

	"github.com/Sternrassler/render-gate/pkg/strategy"
)

// ErrInvalidItem is returned when the item data is not a JSON object.
var ErrInvalidItem = errors.New("render: item data is not a JSON object")

const pageTemplates = `
{{define "ssr"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body data-strategy="ssr" data-item="{{.ID}}">
<main><h1>{{.Title}}</h1>
<dl>{{range .Fields}}<dt>{{.Name}}</dt><dd>{{.Value}}</dd>{{end}}</dl></main>
</body></html>
{{end}}
{{define "csr"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body data-strategy="csr" data-item="{{.ID}}">
<div id="app"></div>
<script>window.__ITEM_ID__ = {{.ID}};</script>
<script src="/static/app.js" defer></script>
</body></html>
{{end}}
{{define "streaming"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body data-strategy="streaming" data-item="{{.ID}}">
<main><h1>{{.Title}}</h1></main>
<div data-stream-boundary></div>
<section id="details"><dl>{{range .Fields}}<dt>{{.Name}}</dt><dd>{{.Value}}</dd>{{end}}</dl></section>
<section id="stock" data-refresh="true"></section>
</body></html>
{{end}}
`

type field struct {
	Name  string
	Value string
}

type page struct {
	ID     string
	Title  string
	Fields []field
}

// TemplateRenderer renders pages from html/template definitions.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses the built-in page templates.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		tmpl: template.Must(template.New("pages").Parse(pageTemplates)),
	}
}

// Render produces the page for decision from the raw item JSON.
func (r *TemplateRenderer) Render(ctx context.Context, decision strategy.Decision, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil || item == nil {
		return nil, ErrInvalidItem
	}

	p := page{ID: decision.Metadata.ItemID}
	if name, ok := item["name"].(string); ok && name != "" {
		p.Title = name
	} else {
		p.Title = "Item " + p.ID
	}
	for _, key := range sortedKeys(item) {
		p.Fields = append(p.Fields, field{Name: key, Value: fmt.Sprint(item[key])})
	}

	name := string(decision.RenderStrategy)
	if r.tmpl.Lookup(name) == nil {
		return nil, fmt.Errorf("render: unknown strategy %q", name)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, p); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
