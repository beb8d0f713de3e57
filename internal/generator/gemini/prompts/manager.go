// Package prompts loads the embedded prompt templates used by the LLM generator.
package prompts

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Template is one YAML prompt file: a shared base plus named variants appended to it.
type Template struct {
	BasePrompt string            `yaml:"base_prompt"`
	Variants   map[string]string `yaml:"variants"`
}

// Manager holds fully assembled prompts by template name and variant.
type Manager struct {
	prompts map[string]map[string]string
}

func NewManager() (*Manager, error) {
	m := &Manager{prompts: make(map[string]map[string]string)}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	return m, nil
}

// Build fills the {{.Key}} placeholders of a prompt with data.
func (m *Manager) Build(name, variant string, data map[string]string) (string, error) {
	variants, ok := m.prompts[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}
	prompt, ok := variants[variant]
	if !ok {
		return "", fmt.Errorf("variant %q not found for template %q", variant, name)
	}
	for key, value := range data {
		prompt = strings.ReplaceAll(prompt, "{{."+key+"}}", value)
	}
	return prompt, nil
}

// Names lists the loaded template names.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.prompts))
	for name := range m.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) load() error {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return fmt.Errorf("read templates directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		var tmpl Template
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}

		name := strings.TrimSuffix(entry.Name(), ".yaml")
		m.prompts[name] = make(map[string]string, len(tmpl.Variants))
		for variant, text := range tmpl.Variants {
			var full strings.Builder
			if tmpl.BasePrompt != "" {
				full.WriteString(tmpl.BasePrompt)
				full.WriteString("\n")
			}
			full.WriteString(text)
			m.prompts[name][variant] = full.String()
		}
	}
	return nil
}
