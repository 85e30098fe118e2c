// Package jsonx parses JSON objects out of model output. Models wrap JSON in
// markdown fences, use Python literals, or drop the braces entirely, so
// extraction is a cascade of progressively looser strategies, each retried
// once after a light syntactic repair.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Extraction method names, recorded for diagnostics.
const (
	MethodDirect     = "direct"
	MethodFenced     = "fenced_block"
	MethodInline     = "inline_code"
	MethodObjectSpan = "object_span"
	MethodKeyValue   = "key_value_lines"
	MethodEmpty      = "empty_input"
	MethodFailed     = "failed"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	inlineCodeRe  = regexp.MustCompile("(?s)`(.*?)`")
	keyValueRe    = regexp.MustCompile(`(?m)^\s*"?[A-Za-z_][A-Za-z0-9_]*"?\s*:\s*(?:"[^"]*"|'[^']*'|[Tt]rue|[Ff]alse|null|-?\d+(?:\.\d+)?).*$`)

	singleQuotedRe  = regexp.MustCompile(`'([^']*)'`)
	bareKeyRe       = regexp.MustCompile(`([{,])\s*([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Extract pulls the first parseable JSON object out of text. It returns the
// object, the name of the strategy that succeeded (with a "_repaired" suffix
// when the light repair pass was needed), and whether extraction succeeded.
func Extract(text string) (map[string]any, string, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, MethodEmpty, false
	}

	if obj, ok := parseObject(text); ok {
		return obj, MethodDirect, true
	}

	type candidate struct {
		text   string
		method string
	}
	var candidates []candidate

	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, candidate{m[1], MethodFenced})
	}
	for _, m := range inlineCodeRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, candidate{m[1], MethodInline})
	}
	for _, span := range objectSpans(text) {
		candidates = append(candidates, candidate{span, MethodObjectSpan})
	}
	if kv := keyValueBlock(text); kv != "" {
		candidates = append(candidates, candidate{kv, MethodKeyValue})
	}

	for _, c := range candidates {
		body := strings.TrimSpace(c.text)
		if body == "" {
			continue
		}
		if obj, ok := parseObject(body); ok {
			return obj, c.method, true
		}
		if obj, ok := parseObject(lightRepair(body)); ok {
			return obj, c.method + "_repaired", true
		}
	}
	return nil, MethodFailed, false
}

func parseObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// lightRepair applies the common syntactic fixes: single quotes to double
// quotes, quoting bare keys, Python booleans, trailing commas.
func lightRepair(text string) string {
	fixed := singleQuotedRe.ReplaceAllString(text, `"$1"`)
	fixed = bareKeyRe.ReplaceAllString(fixed, `$1"$2":`)
	fixed = strings.ReplaceAll(fixed, "True", "true")
	fixed = strings.ReplaceAll(fixed, "False", "false")
	fixed = trailingCommaRe.ReplaceAllString(fixed, `$1`)
	return fixed
}

// objectSpans returns every balanced top-level {...} span in text, scanning
// with string awareness so braces inside JSON strings do not end a span.
func objectSpans(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// keyValueBlock gathers bare "key: value" lines and wraps them in braces.
// Some models emit the body of an object without its delimiters.
func keyValueBlock(text string) string {
	lines := keyValueRe.FindAllString(text, -1)
	if len(lines) == 0 {
		return ""
	}
	trimmed := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed = append(trimmed, strings.TrimSuffix(strings.TrimSpace(l), ","))
	}
	return "{" + strings.Join(trimmed, ", ") + "}"
}

// DecodeInto re-marshals a generic object into a typed struct.
func DecodeInto(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
