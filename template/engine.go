// Package template renders declarative prompt patterns. Placeholders use the
// [name] form; values come from the caller first, then template defaults, then
// an empty string. Constraint data is encoded as a block appended to the end
// of the prompt, never interpolated mid-pattern.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/config"
)

var (
	varPattern   = regexp.MustCompile(`\[([a-zA-Z0-9_]+)\]`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
)

// TemplateSource loads templates by name.
type TemplateSource interface {
	LoadTemplate(name string) (*config.Template, error)
}

// Engine renders templates from a source.
type Engine struct {
	source TemplateSource
	logger *zap.Logger
}

// Metadata reports how a render went, for result records.
type Metadata struct {
	TemplateID        string   `json:"template_id"`
	VariablesProvided []string `json:"variables_provided,omitempty"`
	MissingVariables  []string `json:"missing_variables,omitempty"`
	PromptChars       int      `json:"prompt_chars"`
}

// NewEngine builds an engine over a template source.
func NewEngine(source TemplateSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, logger: logger.Named("template")}
}

// Process loads a template by name and renders it with the given variables.
// Missing variables never fail a render; a structurally invalid or absent
// template does.
func (e *Engine) Process(name string, variables map[string]any) (string, Metadata, error) {
	tmpl, err := e.source.LoadTemplate(name)
	if err != nil {
		return "", Metadata{}, err
	}
	prompt, meta := e.Render(tmpl, variables)
	return prompt, meta, nil
}

// Render substitutes variables into an already-loaded template, appends the
// constraint block, and collapses redundant whitespace.
func (e *Engine) Render(tmpl *config.Template, variables map[string]any) (string, Metadata) {
	meta := Metadata{TemplateID: tmpl.ID}
	for name := range variables {
		meta.VariablesProvided = append(meta.VariablesProvided, name)
	}

	prompt := tmpl.Pattern
	seen := map[string]bool{}
	for _, match := range varPattern.FindAllStringSubmatch(tmpl.Pattern, -1) {
		name := match[1]
		if seen[name] {
			continue
		}
		seen[name] = true

		value, ok := variables[name]
		if !ok {
			value, ok = tmpl.Variables[name]
			// A map-valued default is a variable definition, not a value.
			if _, isMap := value.(map[string]any); isMap {
				value = ""
			}
		}
		if !ok {
			e.logger.Warn("variable not provided, substituting empty string",
				zap.String("template_id", tmpl.ID), zap.String("variable", name))
			value = ""
			meta.MissingVariables = append(meta.MissingVariables, name)
		}
		prompt = strings.ReplaceAll(prompt, "["+name+"]", stringify(value))
	}

	if block := constraintBlock(tmpl); block != "" {
		prompt = strings.TrimSpace(prompt) + "\n\n" + block + "\n"
	}
	prompt = optimizeTokens(prompt)
	meta.PromptChars = len(prompt)
	return prompt, meta
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// constraintBlock builds the appended constraint section: explicit lines
// first, then synthesized answer-space lines. Header depends on the template
// type.
func constraintBlock(tmpl *config.Template) string {
	lines := append([]string{}, tmpl.Constraints...)

	space := tmpl.AnswerSpace
	switch {
	case space.MinWords != nil && space.MaxWords != nil:
		lines = append(lines, fmt.Sprintf("Content length must be between %d and %d words.", *space.MinWords, *space.MaxWords))
	case space.MaxWords != nil:
		lines = append(lines, fmt.Sprintf("Content length must be maximum %d words.", *space.MaxWords))
	}
	if space.Vocabulary != "" {
		lines = append(lines, fmt.Sprintf("Vocabulary must be suitable for: %s.", space.Vocabulary))
	}
	if space.Structure != "" {
		lines = append(lines, fmt.Sprintf("Use structure: %s.", space.Structure))
	}
	if len(space.ProhibitedContent) > 0 {
		lines = append(lines, fmt.Sprintf("Avoid prohibited content types/topics: %s.", strings.Join(space.ProhibitedContent, ", ")))
	}
	for _, key := range sortedKeys(space.Other) {
		lines = append(lines, fmt.Sprintf("%s: %v", capitalizeKey(key), space.Other[key]))
	}

	if len(lines) == 0 {
		return ""
	}
	header := "CONSTRAINTS:"
	if tmpl.Type == "validation" {
		header = "VALIDATION CRITERIA:"
	}
	return header + "\n- " + strings.Join(lines, "\n- ")
}

func capitalizeKey(key string) string {
	words := strings.ReplaceAll(key, "_", " ")
	if words == "" {
		return words
	}
	return strings.ToUpper(words[:1]) + words[1:]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// optimizeTokens collapses runs of spaces and blank lines.
func optimizeTokens(text string) string {
	out := spacesRe.ReplaceAllString(text, " ")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
