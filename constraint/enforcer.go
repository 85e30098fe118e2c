// Package constraint applies deterministic, non-LLM checks to generated
// content: word-count bounds, prohibited keywords, a topic-presence
// heuristic, and a basic JSON shape check. These run after generation in
// both run shapes so the comparison stays fair.
package constraint

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var wordRe = regexp.MustCompile(`\w+`)

// Set is one group of constraints to enforce. Nil bounds are unchecked.
type Set struct {
	MinWords           *int     `json:"minWords,omitempty"`
	MaxWords           *int     `json:"maxWords,omitempty"`
	ProhibitedKeywords []string `json:"prohibitedKeywords,omitempty"`
	RequiredTopic      string   `json:"requiredTopic,omitempty"`
	Format             string   `json:"format,omitempty"`
}

// Result reports the outcome of one enforcement pass.
type Result struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
}

// Enforcer runs constraint sets against content.
type Enforcer struct {
	logger *zap.Logger
}

// NewEnforcer builds an enforcer.
func NewEnforcer(logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{logger: logger.Named("constraints")}
}

// Enforce checks content against the set and collects every violation rather
// than stopping at the first.
func (e *Enforcer) Enforce(content string, set Set) Result {
	result := Result{Passed: true, Violations: []string{}}

	if set.MinWords != nil || set.MaxWords != nil {
		count := CountWords(content)
		if set.MinWords != nil && count < *set.MinWords {
			result.fail(fmt.Sprintf("Word count %d below minimum %d", count, *set.MinWords))
		}
		if set.MaxWords != nil && count > *set.MaxWords {
			result.fail(fmt.Sprintf("Word count %d exceeds maximum %d", count, *set.MaxWords))
		}
	}

	for _, keyword := range set.ProhibitedKeywords {
		if keyword != "" && containsKeyword(content, keyword) {
			result.fail(fmt.Sprintf("Prohibited keyword %q found", keyword))
		}
	}

	if set.RequiredTopic != "" && !topicPresent(content, set.RequiredTopic) {
		result.fail(fmt.Sprintf("Content does not appear to address required topic %q", set.RequiredTopic))
	}

	if strings.EqualFold(set.Format, "json") && !looksLikeJSON(content) {
		result.fail("Content is not in required JSON format")
	}

	if !result.Passed {
		e.logger.Info("constraint enforcement failed",
			zap.Int("violations", len(result.Violations)),
			zap.Strings("details", result.Violations))
	}
	return result
}

func (r *Result) fail(violation string) {
	r.Passed = false
	r.Violations = append(r.Violations, violation)
}

// CountWords counts word-boundary tokens.
func CountWords(text string) int {
	return len(wordRe.FindAllString(text, -1))
}

// containsKeyword matches the keyword as a whole word, case-insensitively.
func containsKeyword(text, keyword string) bool {
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// topicPresent checks whether at least half of the topic's keywords (minimum
// one) appear in the content.
func topicPresent(text, topic string) bool {
	keywords := wordRe.FindAllString(strings.ToLower(topic), -1)
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	threshold := len(keywords) / 2
	if threshold < 1 {
		threshold = 1
	}
	return matched >= threshold
}

func looksLikeJSON(content string) bool {
	trimmed := strings.TrimSpace(content)
	isObject := strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
	isArray := strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")
	return isObject || isArray
}

// FromMap builds a Set from a loosely-typed constraints object, as found in
// teacher requests and test case contexts.
func FromMap(m map[string]any) Set {
	var set Set
	if v, ok := asInt(m["minWords"]); ok {
		set.MinWords = &v
	}
	if v, ok := asInt(m["maxWords"]); ok {
		set.MaxWords = &v
	}
	if list, ok := m["prohibitedKeywords"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				set.ProhibitedKeywords = append(set.ProhibitedKeywords, s)
			}
		}
	}
	if list, ok := m["prohibitedKeywords"].([]string); ok {
		set.ProhibitedKeywords = append(set.ProhibitedKeywords, list...)
	}
	if s, ok := m["requiredTopic"].(string); ok {
		set.RequiredTopic = s
	}
	if s, ok := m["format"].(string); ok {
		set.Format = s
	}
	return set
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
