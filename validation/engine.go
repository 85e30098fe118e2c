// Package validation runs priority-ordered, abort-capable validation
// sequences over a question/answer pair. Each stage renders a prompt, asks a
// model for a {passed, score, feedback} verdict, and contributes a weighted
// share to the final score.
package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/config"
	"github.com/lexcodex/edgeprompt/errs"
	"github.com/lexcodex/edgeprompt/jsonx"
	"github.com/lexcodex/edgeprompt/llm"
	"github.com/lexcodex/edgeprompt/metrics"
	"github.com/lexcodex/edgeprompt/telemetry"
	"github.com/lexcodex/edgeprompt/template"
)

// StageResult records one executed stage. Stages are never silently skipped:
// every stage either appears here or was cut off by an explicit abort. A
// model call that fails in transport is recorded as a failed stage with Error
// set, not raised, so earlier stage entries survive.
type StageResult struct {
	StageID  string          `json:"stageId"`
	Passed   bool            `json:"passed"`
	Score    float64         `json:"score"`
	Feedback string          `json:"feedback"`
	Error    string          `json:"error,omitempty"`
	Metrics  metrics.Metrics `json:"metrics"`
}

// Result is the aggregated verdict of a sequence.
type Result struct {
	IsValid           bool            `json:"isValid"`
	FinalScore        float64         `json:"finalScore"`
	StageResults      []StageResult   `json:"stageResults"`
	AggregateFeedback string          `json:"aggregateFeedback"`
	Aborted           bool            `json:"aborted"`
	Metrics           metrics.Metrics `json:"metrics"`
}

// SequenceSource loads validation sequences by name.
type SequenceSource interface {
	LoadSequence(name string) (*config.Sequence, error)
}

// Executor runs one prompt against the model under validation.
type Executor func(ctx context.Context, prompt string, params llm.Params) llm.ExecutionResult

// Engine drives validation sequences.
type Engine struct {
	sequences      SequenceSource
	templates      *template.Engine
	emitter        *telemetry.Emitter
	logger         *zap.Logger
	repairAttempts int
}

// NewEngine builds a validation engine. repairAttempts bounds the LLM repair
// loop used when a stage verdict cannot be parsed locally.
func NewEngine(sequences SequenceSource, templates *template.Engine, emitter *telemetry.Emitter, repairAttempts int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sequences:      sequences,
		templates:      templates,
		emitter:        emitter,
		logger:         logger.Named("validation"),
		repairAttempts: repairAttempts,
	}
}

// Validate loads the named sequence and runs it over the question/answer
// pair. Context variables (typically the teacher request fields) are merged
// into every stage render. A missing or invalid sequence is a configuration
// error and fails hard.
func (e *Engine) Validate(ctx context.Context, sequenceID, question, answer string, contextVars map[string]any, exec Executor, repair jsonx.RepairFunc) (*Result, error) {
	seq, err := e.sequences.LoadSequence(sequenceID)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, seq, question, answer, contextVars, exec, repair)
}

// Run executes an already-loaded sequence.
func (e *Engine) Run(ctx context.Context, seq *config.Sequence, question, answer string, contextVars map[string]any, exec Executor, repair jsonx.RepairFunc) (*Result, error) {
	if len(seq.Stages) == 0 {
		return nil, errs.Config("sequence %s: empty stages list", seq.ID)
	}

	// Stable sort keeps document order among equal priorities.
	stages := make([]config.Stage, len(seq.Stages))
	copy(stages, seq.Stages)
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Priority > stages[j].Priority
	})

	result := &Result{IsValid: true}
	var feedback strings.Builder
	var stageMetrics []metrics.Metrics
	consideredWeight := 0.0

	for _, stage := range stages {
		stageResult, stageErr := e.runStage(ctx, stage, question, answer, contextVars, exec, repair)
		if stageErr != nil {
			// Only configuration problems (missing stage template) escalate.
			return nil, stageErr
		}
		result.StageResults = append(result.StageResults, *stageResult)
		stageMetrics = append(stageMetrics, stageResult.Metrics)
		consideredWeight += stage.Weight

		if stageResult.Feedback != "" {
			fmt.Fprintf(&feedback, "[%s] %s\n", stage.ID, stageResult.Feedback)
		}

		if stageResult.Passed {
			result.FinalScore += stageResult.Score * stage.Weight
			continue
		}

		// Failing stages contribute zero, never negative.
		result.IsValid = false
		if abortOnFailure(seq, stage) {
			e.logger.Warn("stage failed with abort set, stopping sequence",
				zap.String("sequence", seq.ID), zap.String("stage", stage.ID))
			result.Aborted = true
			break
		}
	}

	if consideredWeight > 0 {
		result.FinalScore /= consideredWeight
	} else {
		result.FinalScore = 0
	}
	if seq.PassingThreshold != nil && result.FinalScore < *seq.PassingThreshold {
		result.IsValid = false
	}
	result.AggregateFeedback = feedback.String()
	result.Metrics = metrics.Merge(stageMetrics)

	e.logger.Info("sequence complete",
		zap.String("sequence", seq.ID),
		zap.Bool("is_valid", result.IsValid),
		zap.Float64("final_score", result.FinalScore),
		zap.Int("stages_run", len(result.StageResults)))
	return result, nil
}

func (e *Engine) runStage(ctx context.Context, stage config.Stage, question, answer string, contextVars map[string]any, exec Executor, repair jsonx.RepairFunc) (*StageResult, error) {
	vars := map[string]any{"question": question, "answer": answer}
	for k, v := range contextVars {
		vars[k] = v
	}

	prompt, _, err := e.templates.Process(stage.TemplateID, vars)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "stage %s", stage.ID)
	}

	execResult := exec(ctx, prompt, llm.LowTempJSONParams())
	if execResult.Failed() {
		e.logger.Error("stage execution failed",
			zap.String("stage", stage.ID), zap.String("error", execResult.Err))
		e.emitter.Emit(telemetry.EventStageResult, "", "", "stage verdict", map[string]any{
			"stage":  stage.ID,
			"passed": false,
			"error":  execResult.Err,
		})
		return &StageResult{
			StageID:  stage.ID,
			Passed:   false,
			Feedback: "Technical error: " + execResult.Err,
			Error:    execResult.Err,
			Metrics:  execResult.Metrics,
		}, nil
	}

	verdict, attempts := jsonx.RepairWithLLM(ctx, execResult.Text, repair,
		jsonx.RequiredValidationKeys, stageDefaults(), e.repairAttempts)
	if attempts > 0 {
		e.emitter.Emit(telemetry.EventParseRecovered, "", "",
			"stage verdict required repair",
			map[string]any{"stage": stage.ID, "attempts": attempts})
	}

	passed, _ := verdict["passed"].(bool)
	score, _ := verdict["score"].(float64)
	fb, _ := verdict["feedback"].(string)

	e.emitter.Emit(telemetry.EventStageResult, "", "", "stage verdict", map[string]any{
		"stage":  stage.ID,
		"passed": passed,
		"score":  score,
	})
	return &StageResult{
		StageID:  stage.ID,
		Passed:   passed,
		Score:    score,
		Feedback: fb,
		Metrics:  execResult.Metrics,
	}, nil
}

// abortOnFailure resolves the stage override against the sequence default.
// The default is to abort.
func abortOnFailure(seq *config.Sequence, stage config.Stage) bool {
	if stage.AbortOnFailure != nil {
		return *stage.AbortOnFailure
	}
	if seq.AbortOnFailure != nil {
		return *seq.AbortOnFailure
	}
	return true
}

func stageDefaults() map[string]any {
	return map[string]any{
		"passed":   false,
		"score":    0.5,
		"feedback": "parse failed",
	}
}
