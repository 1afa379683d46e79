package gateway

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/lexiqai/voice-assistant/internal/assistant"
)

//go:embed templates/index.html
var templates embed.FS

var pageTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

// renderPage renders the single page once per process; the profile does
// not change at runtime.
func renderPage(profile *assistant.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, profile); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
