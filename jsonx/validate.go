package jsonx

import (
	"fmt"
	"strconv"
	"strings"
)

// Standard validation-output schema shared by evaluation and stage steps.
var (
	RequiredValidationKeys = []string{"passed", "score", "feedback"}

	DefaultValidationValues = map[string]any{
		"passed":   false,
		"score":    0.5,
		"feedback": "Failed to parse validation result.",
	}
)

var truthyStrings = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true, "t": true,
}

// ValidateAndFix coerces a parsed object into the expected shape: missing
// required keys are filled from defaults, "passed" becomes a bool, "score"
// becomes a float normalized to [0,1], "feedback" becomes a string. A nil
// object yields a defaults-only result.
func ValidateAndFix(obj map[string]any, required []string, defaults map[string]any) map[string]any {
	if obj == nil {
		return defaultsOnly(required, defaults)
	}
	for _, key := range required {
		if _, ok := obj[key]; !ok {
			if dv, ok := defaults[key]; ok {
				obj[key] = dv
			}
		}
	}
	if v, ok := obj["passed"]; ok {
		obj["passed"] = coerceBool(v)
	}
	if v, ok := obj["score"]; ok {
		obj["score"] = normalizeScore(coerceScore(v, defaults))
	}
	if v, ok := obj["feedback"]; ok {
		if _, isString := v.(string); !isString {
			obj["feedback"] = fmt.Sprintf("%v", v)
		}
	}
	return obj
}

// Parse extracts and fixes a validation-shaped object in one call, returning
// a defaults-only object when extraction fails entirely.
func Parse(text string, required []string, defaults map[string]any) (map[string]any, string) {
	obj, method, ok := Extract(text)
	if !ok {
		return defaultsOnly(required, defaults), method
	}
	return ValidateAndFix(obj, required, defaults), method
}

// HasAll reports whether every required key is present in the object.
func HasAll(obj map[string]any, required []string) bool {
	for _, key := range required {
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	return true
}

func defaultsOnly(required []string, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(required))
	for _, key := range required {
		out[key] = defaults[key]
	}
	return out
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return truthyStrings[strings.ToLower(strings.TrimSpace(t))]
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return v != nil
	}
}

func coerceScore(v any, defaults map[string]any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if num, denom, found := strings.Cut(s, "/"); found {
			n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
			d, errD := strconv.ParseFloat(strings.TrimSpace(denom), 64)
			if errN == nil && errD == nil && d != 0 {
				return n / d
			}
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if dv, ok := defaults["score"].(float64); ok {
		return dv
	}
	return 0.5
}

// normalizeScore maps ten-point-scale scores into [0,1] and clamps the rest.
// An 8 means 0.8, not a clamped 1.0.
func normalizeScore(score float64) float64 {
	if score > 1.0 && score <= 10.0 {
		return score / 10.0
	}
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
