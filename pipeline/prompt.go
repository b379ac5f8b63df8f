package pipeline

import (
	"fmt"
	"strings"
	"text/template"
)

// PromptData is available to the research and writing prompt templates,
// e.g. "today's ({{.Date}}) headlines" or "RESEARCH DATA: {{.Research}}".
type PromptData struct {
	Date      string
	Headlines string
	Lead      string
	Research  string
}

func renderPrompt(name, text string, data PromptData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return b.String(), nil
}
