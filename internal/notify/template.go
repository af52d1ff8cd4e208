package notify

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultStartTemplate announces a new air quality alert near a POI.
const DefaultStartTemplate = `Warning
Air quality may be unhealthy near {{if .POIName}}{{.POIName}}{{else}}your place of interest{{end}}
{{if .MapURL}}
{{.MapURL}}
{{end}}
Text STOP to unsubscribe`

// DefaultEndTemplate announces the end of an episode once its report exists.
const DefaultEndTemplate = `Alert Over
Duration: {{.DurationMinutes}} minutes
Report: {{.ReportID}}
{{if .ReportURL}}
{{.ReportURL}}
{{end}}`

// TemplateData provides fields for rendering message content.
type TemplateData struct {
	POIName         string
	MapURL          string
	ReportID        string
	ReportURL       string
	DurationMinutes int64
}

// Template renders message content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a message template.
func NewTemplate(name, tpl string) (*Template, error) {
	if tpl == "" {
		return nil, errors.New("notify template: empty template")
	}
	parsed, err := template.New(name).Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
