// Package llm renders the prompts handed to the coding agent.
package llm

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

// Style selects a prompt variant. Unknown styles fall back to DefaultStyle.
type Style string
type PromptKey string

const (
	DefaultStyle Style = "default"
	SimpleStyle  Style = "simple"

	ReviewPrompt PromptKey = "review"
	ChatPrompt   PromptKey = "chat"
)

// Attachments names the workspace files passed to the agent next to the
// prompt. Empty names are left out of the prompt.
type Attachments struct {
	Diff  string
	PR    string
	Rules string
	Index string
}

// ReviewData feeds the review prompt.
type ReviewData struct {
	Repo           string
	Number         int
	Title          string
	Rules          string
	TruncationNote string
	HasSnapshot    bool
	Files          Attachments
}

// ChatData feeds the chat prompt.
type ChatData struct {
	Repo           string
	Number         int
	Title          string
	Rules          string
	TruncationNote string
	HasSnapshot    bool
	Files          Attachments
	Question       string
	Transcript     string
	LatestReview   string
	BotLogin       string
}

type PromptManager struct {
	prompts map[PromptKey]map[Style]*template.Template
}

func NewPromptManager() (*PromptManager, error) {
	pm := &PromptManager{
		prompts: make(map[PromptKey]map[Style]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore <= 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'key_style.prompt')", fileName)
		}

		key := PromptKey(baseName[:lastUnderscore])
		style := Style(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := pm.register(key, style, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	return pm, nil
}

func (pm *PromptManager) register(key PromptKey, style Style, content string) error {
	tmpl, err := template.New(string(key) + "_" + string(style)).Option("missingkey=error").Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := pm.prompts[key]; !ok {
		pm.prompts[key] = make(map[Style]*template.Template)
	}
	pm.prompts[key][style] = tmpl
	return nil
}

func (pm *PromptManager) Get(key PromptKey, style Style) (*template.Template, error) {
	variants, ok := pm.prompts[key]
	if !ok {
		return nil, fmt.Errorf("no prompts found for key '%s'", key)
	}

	if tmpl, ok := variants[style]; ok {
		return tmpl, nil
	}
	if tmpl, ok := variants[DefaultStyle]; ok {
		return tmpl, nil
	}

	return nil, fmt.Errorf("no template found for key '%s' and style '%s', and no default was available", key, style)
}

func (pm *PromptManager) Render(key PromptKey, style Style, data any) (string, error) {
	tmpl, err := pm.Get(key, style)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}

	return strings.TrimSpace(buf.String()) + "\n", nil
}
