package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Dispatch {{.EventLabel}}]
Emergency: {{.EmergencyID}}
Unit: {{.Ambulance}}
Hospital: {{.Hospital}}
Risk: {{.Risk}}
ETA: {{.Eta}}
Time: {{.Time}}
{{ if .Reason }}
Reason: {{.Reason}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event        string
	EventLabel   string
	EmergencyID  string
	Ambulance    string
	Hospital     string
	HospitalID   string
	PrevHospital string
	Reason       string
	Risk         string
	PrevRisk     string
	Eta          string
	PrevEta      string
	Status       string
	Time         string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("dispatch-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("dispatch template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
