package jsonx

import (
	"context"
	"fmt"
	"strings"
)

// RepairFunc sends a repair prompt to a model and returns its raw text reply.
type RepairFunc func(ctx context.Context, prompt string) (string, error)

// RepairWithLLM parses text, asking a model to rewrite it as valid JSON when
// local extraction cannot produce an object carrying every required key. It
// returns the fixed object plus the number of repair calls made. The loop
// stops early when a repair round echoes its input back unchanged, and a
// defaults-only object is returned once attempts are exhausted.
func RepairWithLLM(ctx context.Context, text string, repair RepairFunc, required []string, defaults map[string]any, maxAttempts int) (map[string]any, int) {
	obj, _, ok := Extract(text)
	if ok && HasAll(obj, required) {
		return ValidateAndFix(obj, required, defaults), 0
	}
	var partial map[string]any
	if ok {
		partial = obj
	}

	attempts := 0
	current := text
	for attempts < maxAttempts && repair != nil {
		attempts++
		repaired, err := repair(ctx, repairPrompt(current, required))
		if err != nil {
			break
		}
		if repaired == current {
			break
		}
		if obj, _, ok := Extract(repaired); ok {
			if HasAll(obj, required) {
				return ValidateAndFix(obj, required, defaults), attempts
			}
			partial = obj
		}
		current = repaired
	}

	if partial != nil {
		return ValidateAndFix(partial, required, defaults), attempts
	}
	return defaultsOnly(required, defaults), attempts
}

func repairPrompt(text string, required []string) string {
	quoted := make([]string, len(required))
	for i, k := range required {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf(`Fix the following text into valid JSON. Return ONLY the fixed JSON, nothing else.

TEXT TO FIX:
`+"```"+`
%s
`+"```"+`

Your response should be ONLY a valid JSON object with these exact keys:
%s

Do NOT include markdown formatting, code blocks, or any text outside the JSON object.
`, text, strings.Join(quoted, ", "))
}
