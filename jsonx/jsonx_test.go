package jsonx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDirect(t *testing.T) {
	obj, method, ok := Extract(`{"passed": true, "score": 0.9, "feedback": "good"}`)
	require.True(t, ok)
	assert.Equal(t, MethodDirect, method)
	assert.Equal(t, true, obj["passed"])
}

func TestExtractFencedBlock(t *testing.T) {
	text := "Here is my assessment:\n```json\n{\"passed\": false, \"score\": 0.3, \"feedback\": \"too short\"}\n```\nLet me know."
	obj, method, ok := Extract(text)
	require.True(t, ok)
	assert.Equal(t, MethodFenced, method)
	assert.Equal(t, "too short", obj["feedback"])
}

func TestExtractObjectSpanInsideProse(t *testing.T) {
	text := `The student did well. {"passed": true, "score": 0.85, "feedback": "covers the {key} points"} Overall a pass.`
	obj, method, ok := Extract(text)
	require.True(t, ok)
	assert.Equal(t, MethodObjectSpan, method)
	assert.Equal(t, "covers the {key} points", obj["feedback"])
}

func TestExtractKeyValueLines(t *testing.T) {
	text := "passed: true\nscore: 0.7\nfeedback: \"adequate answer\"\n"
	obj, method, ok := Extract(text)
	require.True(t, ok)
	assert.Contains(t, method, MethodKeyValue)
	assert.Equal(t, true, obj["passed"])
	assert.Equal(t, 0.7, obj["score"])
}

func TestExtractLightRepair(t *testing.T) {
	text := "```\n{passed: True, score: 0.6, feedback: 'okay',}\n```"
	obj, method, ok := Extract(text)
	require.True(t, ok)
	assert.Equal(t, MethodFenced+"_repaired", method)
	assert.Equal(t, true, obj["passed"])
	assert.Equal(t, "okay", obj["feedback"])
}

func TestExtractFailure(t *testing.T) {
	_, method, ok := Extract("no structured content here at all")
	assert.False(t, ok)
	assert.Equal(t, MethodFailed, method)

	_, method, ok = Extract("   ")
	assert.False(t, ok)
	assert.Equal(t, MethodEmpty, method)
}

func TestExtractIsIdempotent(t *testing.T) {
	first, _, ok := Extract("```json\n{\"passed\": true, \"score\": 1, \"feedback\": \"x\"}\n```")
	require.True(t, ok)
	raw, err := json.Marshal(first)
	require.NoError(t, err)
	second, method, ok := Extract(string(raw))
	require.True(t, ok)
	assert.Equal(t, MethodDirect, method)
	assert.Equal(t, first, second)
}

func TestValidateAndFixScoreNormalization(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{8.0, 0.8},
		{float64(10), 1.0},
		{0.85, 0.85},
		{-2.0, 0.0},
		{15.0, 1.0},
		{"7/10", 0.7},
		{"0.45", 0.45},
		{"not a number", 0.5},
	}
	for _, tc := range cases {
		obj := ValidateAndFix(
			map[string]any{"passed": true, "score": tc.in, "feedback": "f"},
			RequiredValidationKeys, DefaultValidationValues,
		)
		score, isFloat := obj["score"].(float64)
		require.True(t, isFloat, "score for input %v", tc.in)
		assert.InDelta(t, tc.want, score, 1e-9, "input %v", tc.in)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestValidateAndFixPassedCoercion(t *testing.T) {
	for in, want := range map[string]bool{
		"true": true, "Yes": true, "1": true, "t": true,
		"false": false, "no": false, "": false,
	} {
		obj := ValidateAndFix(
			map[string]any{"passed": in, "score": 0.5, "feedback": "f"},
			RequiredValidationKeys, DefaultValidationValues,
		)
		assert.Equal(t, want, obj["passed"], "input %q", in)
	}
}

func TestValidateAndFixFillsMissingKeys(t *testing.T) {
	obj := ValidateAndFix(map[string]any{"score": 0.9}, RequiredValidationKeys, DefaultValidationValues)
	assert.Equal(t, false, obj["passed"])
	assert.Equal(t, "Failed to parse validation result.", obj["feedback"])
	assert.Equal(t, 0.9, obj["score"])
}

func TestValidateAndFixNilObject(t *testing.T) {
	obj := ValidateAndFix(nil, RequiredValidationKeys, DefaultValidationValues)
	assert.Equal(t, false, obj["passed"])
	assert.Equal(t, 0.5, obj["score"])
}

func TestValidateAndFixStringifiesFeedback(t *testing.T) {
	obj := ValidateAndFix(
		map[string]any{"passed": true, "score": 0.5, "feedback": 42.0},
		RequiredValidationKeys, DefaultValidationValues,
	)
	assert.Equal(t, "42", obj["feedback"])
}

func TestRepairSkippedWhenExtractionSucceeds(t *testing.T) {
	called := 0
	repair := func(ctx context.Context, prompt string) (string, error) {
		called++
		return "", nil
	}
	obj, attempts := RepairWithLLM(context.Background(),
		`{"passed": true, "score": 8, "feedback": "solid"}`,
		repair, RequiredValidationKeys, DefaultValidationValues, 3)
	assert.Zero(t, called)
	assert.Zero(t, attempts)
	assert.Equal(t, 0.8, obj["score"])
}

func TestRepairSucceedsFirstAttempt(t *testing.T) {
	repair := func(ctx context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, "TEXT TO FIX")
		return `{"passed": false, "score": 0.2, "feedback": "incomplete"}`, nil
	}
	obj, attempts := RepairWithLLM(context.Background(),
		"the answer fails because reasons", repair,
		RequiredValidationKeys, DefaultValidationValues, 2)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, false, obj["passed"])
	assert.Equal(t, 0.2, obj["score"])
}

func TestRepairStopsOnIdenticalOutput(t *testing.T) {
	called := 0
	repair := func(ctx context.Context, prompt string) (string, error) {
		called++
		return "still not json", nil
	}
	obj, attempts := RepairWithLLM(context.Background(),
		"still not json", repair,
		RequiredValidationKeys, DefaultValidationValues, 5)
	assert.Equal(t, 1, called)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, false, obj["passed"])
	assert.Equal(t, 0.5, obj["score"])
}

func TestRepairExhaustionReturnsDefaults(t *testing.T) {
	i := 0
	repair := func(ctx context.Context, prompt string) (string, error) {
		i++
		return "garbage round " + string(rune('0'+i)), nil
	}
	obj, attempts := RepairWithLLM(context.Background(),
		"garbage", repair, RequiredValidationKeys, DefaultValidationValues, 2)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "Failed to parse validation result.", obj["feedback"])
}

func TestRepairEscalatesPartialObject(t *testing.T) {
	repair := func(ctx context.Context, prompt string) (string, error) {
		return "nothing useful", nil
	}
	obj, _ := RepairWithLLM(context.Background(),
		`{"score": 0.9}`, repair,
		RequiredValidationKeys, DefaultValidationValues, 1)
	assert.Equal(t, 0.9, obj["score"])
	assert.Equal(t, false, obj["passed"])
}
