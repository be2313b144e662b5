package api

import (
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Templates holds all parsed templates
type Templates struct {
	index *template.Template
	call  *template.Template
}

// IndexData holds data for the dial form page
type IndexData struct {
	Error string
}

// CallData holds data for the call progress page
type CallData struct {
	SessionID   string
	PhoneNumber string
	State       string
	Error       string
}

// NewTemplates parses all embedded templates
func NewTemplates() (*Templates, error) {
	index, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	call, err := template.ParseFS(templatesFS, "templates/call.html")
	if err != nil {
		return nil, err
	}
	return &Templates{index: index, call: call}, nil
}

// RenderIndex renders the dial form page
func (t *Templates) RenderIndex(w io.Writer, data IndexData) error {
	return t.index.Execute(w, data)
}

// RenderCall renders the call progress page
func (t *Templates) RenderCall(w io.Writer, data CallData) error {
	return t.call.Execute(w, data)
}
