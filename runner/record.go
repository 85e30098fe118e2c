// Package runner orchestrates the four-run comparison matrix: for every test
// case one teacher request seeds a baseline and a structured run on both the
// cloud model and each edge model, and the outcomes are logged for analysis.
package runner

import (
	"time"

	"github.com/lexcodex/edgeprompt/metrics"
)

// Run keys inside a case record. The matrix is fixed: runs 1 and 2 use the
// cloud model as the subject, runs 3 and 4 the edge model; odd runs are
// baseline, even runs structured.
const (
	RunBaselineCloud   = "run_1"
	RunStructuredCloud = "run_2"
	RunBaselineEdge    = "run_3"
	RunStructuredEdge  = "run_4"
)

// RunKeys lists the matrix slots in execution order.
var RunKeys = []string{RunBaselineCloud, RunStructuredCloud, RunBaselineEdge, RunStructuredEdge}

// Method names the run shape.
type Method string

const (
	MethodBaseline   Method = "baseline"
	MethodStructured Method = "edgeprompt"
)

// Status tracks a run's lifecycle. A run is created pending and transitions
// exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step records one pipeline step inside a run.
type Step struct {
	Output   string          `json:"output,omitempty"`
	Parsed   map[string]any  `json:"parsed,omitempty"`
	Metrics  metrics.Metrics `json:"metrics"`
	Error    string          `json:"error,omitempty"`
	Executed bool            `json:"executed"`
	Skipped  string          `json:"skipped_reason,omitempty"`
}

// FinalDecision is the deterministic projection of a run's outcome. Exactly
// one of PassedValidation or PassedEvaluation is set, depending on the method.
type FinalDecision struct {
	PassedValidation  *bool   `json:"passed_validation,omitempty"`
	PassedEvaluation  *bool   `json:"passed_evaluation,omitempty"`
	PassedConstraints bool    `json:"passed_constraints"`
	FinalScore        float64 `json:"final_score"`
	Feedback          string  `json:"feedback,omitempty"`
}

// RunRecord is one slot of the four-run matrix.
type RunRecord struct {
	Method        Method           `json:"method"`
	Subject       string           `json:"subject"`
	ModelID       string           `json:"model_id"`
	Status        Status           `json:"status"`
	Steps         map[string]*Step `json:"steps"`
	FinalDecision *FinalDecision   `json:"final_decision,omitempty"`
	TotalMetrics  metrics.Metrics  `json:"total_metrics"`
	Error         string           `json:"error,omitempty"`
}

func newRunRecord(method Method, subject, modelID string) *RunRecord {
	return &RunRecord{
		Method:  method,
		Subject: subject,
		ModelID: modelID,
		Status:  StatusPending,
		Steps:   map[string]*Step{},
	}
}

func (r *RunRecord) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
}

func (r *RunRecord) addStep(name string, step *Step) {
	r.Steps[name] = step
}

// mergeStepMetrics recomputes the run's aggregate metrics from its steps.
// The validation step already carries its sequence's merged metrics.
func (r *RunRecord) mergeStepMetrics() {
	var all []metrics.Metrics
	for _, step := range r.Steps {
		all = append(all, step.Metrics)
	}
	r.TotalMetrics = metrics.Merge(all)
}

// CaseRecord holds the four runs of one (test case, edge model) pairing.
type CaseRecord struct {
	ID             string                `json:"id"`
	Timestamp      time.Time             `json:"timestamp"`
	SuiteID        string                `json:"test_suite_id"`
	CaseID         string                `json:"test_case_id"`
	CloudModelID   string                `json:"cloud_model_id"`
	EdgeModelID    string                `json:"edge_model_id"`
	TeacherRequest *TeacherRequest       `json:"teacher_request,omitempty"`
	TeacherStep    *Step                 `json:"teacher_request_step,omitempty"`
	Runs           map[string]*RunRecord `json:"runs"`
	Error          string                `json:"error,omitempty"`
}

// HasError reports whether the record or any of its runs failed.
func (c *CaseRecord) HasError() bool {
	if c.Error != "" {
		return true
	}
	for _, run := range c.Runs {
		if run.Status == StatusFailed || run.Error != "" {
			return true
		}
	}
	return false
}
