package core

import (
	"editbench/internal/config"
	"fmt"
	"regexp"
	"strings"
)

const (
	originalDescriptionKey = "original_description"
	editInstructionKey     = "edit_instruction"
	categoryKey            = "category"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// PromptManager renders the judge prompts of each category.
type PromptManager struct {
	templates map[string]config.PromptTemplate
}

func NewPromptManager(templates map[string]config.PromptTemplate) *PromptManager {
	return &PromptManager{templates: templates}
}

// Validate checks that every listed category has a template. Placeholders
// are checked when a prompt is rendered, so a bad template fails its pairs
// rather than the run.
func (pm *PromptManager) Validate(categories []string) error {
	for _, category := range categories {
		if _, ok := pm.templates[category]; !ok {
			return fmt.Errorf("no prompt template for category '%s'", category)
		}
	}
	return nil
}

func (pm *PromptManager) SystemPrompt(category string) (string, error) {
	tmpl, ok := pm.templates[category]
	if !ok {
		return "", fmt.Errorf("no prompt template for category '%s'", category)
	}
	return tmpl.SystemPrompt, nil
}

func (pm *PromptManager) UserPrompt(category, originalDescription, editInstruction string) (string, error) {
	tmpl, ok := pm.templates[category]
	if !ok {
		return "", fmt.Errorf("no prompt template for category '%s'", category)
	}

	values := map[string]string{
		originalDescriptionKey: originalDescription,
		editInstructionKey:     editInstruction,
		categoryKey:            category,
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl.UserPromptTemplate, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown placeholders in prompt for category '%s': %s", category, strings.Join(missing, ", "))
	}
	return out, nil
}
