package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Loading reports whether the page shows the loading screen.
func (p Page) Loading() bool { return p.Screen == ScreenLoading }

// Render produces the HTML of the app and modal roots.
func Render(p Page) (app, modal string, err error) {
	if app, err = execute("app", p); err != nil {
		return "", "", err
	}
	if modal, err = execute("modal", p); err != nil {
		return "", "", err
	}
	return app, modal, nil
}

// RenderDocument produces a complete HTML document showing p.
func RenderDocument(p Page) (string, error) {
	return execute("document", p)
}

func execute(name string, p Page) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, p); err != nil {
		return "", fmt.Errorf("view: render %s: %w", name, err)
	}
	return buf.String(), nil
}
