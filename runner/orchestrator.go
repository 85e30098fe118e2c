package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/config"
	"github.com/lexcodex/edgeprompt/constraint"
	"github.com/lexcodex/edgeprompt/errs"
	"github.com/lexcodex/edgeprompt/jsonx"
	"github.com/lexcodex/edgeprompt/llm"
	"github.com/lexcodex/edgeprompt/telemetry"
	"github.com/lexcodex/edgeprompt/template"
	"github.com/lexcodex/edgeprompt/validation"
)

// Default document names used when a test case or suite does not override
// them.
const (
	DefaultTeacherRequestTemplate = "teacher_request_persona"
	DefaultStudentAnswerTemplate  = "student_answer_persona"
	DefaultTeacherReviewTemplate  = "teacher_review_persona"
	DefaultBaselineEvalTemplate   = "baseline_eval_persona"
	DefaultQuestionTemplate       = "direct_constraint_template"
	DefaultValidationSequence     = "basic_validation_sequence"
)

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// Options tune orchestrator behavior.
type Options struct {
	Mock           bool
	RepairAttempts int
}

// Summary is the compact result of a suite execution. Full records live in
// the output directory.
type Summary struct {
	SuiteID   string `json:"test_suite_id"`
	Attempted int    `json:"total_cases_attempted"`
	Logged    int    `json:"total_cases_logged"`
	Errors    int    `json:"cases_with_errors"`
}

// Orchestrator walks the test suite and executes the four-run matrix for
// every (test case, edge model) pairing. Execution is strictly sequential.
type Orchestrator struct {
	suite     *config.Suite
	templates *template.Engine
	validator *validation.Engine
	enforcer  *constraint.Enforcer
	models    *llm.Manager
	results   *ResultLogger
	emitter   *telemetry.Emitter
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewOrchestrator wires the pipeline components around a config loader.
func NewOrchestrator(suite *config.Suite, loader *config.Loader, models *llm.Manager, results *ResultLogger, emitter *telemetry.Emitter, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	templates := template.NewEngine(loader, logger)
	return &Orchestrator{
		suite:     suite,
		templates: templates,
		validator: validation.NewEngine(loader, templates, emitter, opts.RepairAttempts, logger),
		enforcer:  constraint.NewEnforcer(logger),
		models:    models,
		results:   results,
		emitter:   emitter,
		logger:    logger.Named("runner"),
		opts:      opts,
		now:       time.Now,
	}
}

// RunSuite executes every test case against every edge model. A broken suite
// setup (no cloud model handle) aborts; anything that goes wrong inside a run
// is isolated to that run.
func (o *Orchestrator) RunSuite(ctx context.Context) (*Summary, error) {
	o.emitter.Emit(telemetry.EventSuiteStart, "", "", "suite start", map[string]any{
		"suite_id":    o.suite.ID,
		"test_cases":  len(o.suite.TestCases),
		"edge_models": len(o.suite.Models.Edge),
	})

	cloud, err := o.models.Initialize(llm.ModelTypeCloud, o.suite.Models.Cloud, o.opts.Mock)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "initializing cloud model %s", o.suite.Models.Cloud)
	}

	var records []*CaseRecord
	attempted := 0
	for _, tc := range o.suite.TestCases {
		o.logger.Info("running test case", zap.String("case_id", tc.ID))
		teacherReq, teacherStep := o.teacherRequest(ctx, cloud, tc)

		for _, edgeID := range o.suite.Models.Edge {
			attempted++
			record := o.executeCase(ctx, tc, edgeID, cloud, teacherReq, teacherStep)
			records = append(records, record)
			if _, err := o.results.Log(record); err != nil {
				o.logger.Error("failed to log case record",
					zap.String("record_id", record.ID), zap.Error(err))
			}
		}
	}

	stats := Summarize(records)
	if _, err := o.results.LogAggregate(o.suite.ID+"_run_summary", stats); err != nil {
		o.logger.Error("failed to write run summary", zap.Error(err))
	}

	summary := &Summary{SuiteID: o.suite.ID, Attempted: attempted, Logged: len(records)}
	for _, record := range records {
		if record.HasError() {
			summary.Errors++
		}
	}
	o.emitter.Emit(telemetry.EventSuiteFinish, "", "", "suite finish", map[string]any{
		"suite_id":  o.suite.ID,
		"attempted": summary.Attempted,
		"logged":    summary.Logged,
		"errors":    summary.Errors,
	})
	o.logger.Info("suite complete",
		zap.Int("attempted", summary.Attempted),
		zap.Int("logged", summary.Logged),
		zap.Int("errors", summary.Errors))
	return summary, nil
}

// caseEnv bundles the per-case state the run methods share. The teacher
// request is read-only once created.
type caseEnv struct {
	tc          config.TestCase
	teacherReq  *TeacherRequest
	cloud       *llm.Handle
	constraints constraint.Set
	sequenceID  string
}

func (o *Orchestrator) executeCase(ctx context.Context, tc config.TestCase, edgeID string, cloud *llm.Handle, teacherReq *TeacherRequest, teacherStep *Step) *CaseRecord {
	record := &CaseRecord{
		ID:             caseRecordID(o.suite.ID, tc.ID, edgeID),
		Timestamp:      o.now(),
		SuiteID:        o.suite.ID,
		CaseID:         tc.ID,
		CloudModelID:   o.suite.Models.Cloud,
		EdgeModelID:    edgeID,
		TeacherRequest: teacherReq,
		TeacherStep:    teacherStep,
		Runs:           map[string]*RunRecord{},
	}

	sequenceID := o.suite.ValidationSequence
	if sequenceID == "" {
		sequenceID = DefaultValidationSequence
	}
	env := &caseEnv{
		tc:          tc,
		teacherReq:  teacherReq,
		cloud:       cloud,
		constraints: o.resolveConstraints(teacherReq, tc),
		sequenceID:  sequenceID,
	}

	record.Runs[RunBaselineCloud] = o.doRun(ctx, env, record.ID, RunBaselineCloud, MethodBaseline, cloud)
	record.Runs[RunStructuredCloud] = o.doRun(ctx, env, record.ID, RunStructuredCloud, MethodStructured, cloud)

	edge, err := o.models.Initialize(llm.ModelTypeEdge, edgeID, o.opts.Mock)
	if err != nil {
		o.logger.Error("failed to initialize edge model",
			zap.String("model_id", edgeID), zap.Error(err))
		for _, key := range []string{RunBaselineEdge, RunStructuredEdge} {
			run := newRunRecord(runMethod(key), string(llm.ModelTypeEdge), edgeID)
			run.fail(errs.Wrap(errs.KindConfig, err, "edge model initialization"))
			record.Runs[key] = run
		}
		return record
	}
	record.Runs[RunBaselineEdge] = o.doRun(ctx, env, record.ID, RunBaselineEdge, MethodBaseline, edge)
	record.Runs[RunStructuredEdge] = o.doRun(ctx, env, record.ID, RunStructuredEdge, MethodStructured, edge)
	return record
}

func runMethod(key string) Method {
	if key == RunStructuredCloud || key == RunStructuredEdge {
		return MethodStructured
	}
	return MethodBaseline
}

func (o *Orchestrator) doRun(ctx context.Context, env *caseEnv, recordID, key string, method Method, subject *llm.Handle) *RunRecord {
	runID := recordID + "_" + key
	o.emitter.Emit(telemetry.EventRunStart, runID, env.tc.ID, "run start", map[string]any{
		"method":   string(method),
		"subject":  string(subject.Type),
		"model_id": subject.ModelID,
	})

	var run *RunRecord
	if method == MethodBaseline {
		run = o.baselineRun(ctx, env, runID, subject)
	} else {
		run = o.structuredRun(ctx, env, runID, subject)
	}

	if run.Status == StatusFailed {
		o.emitter.Emit(telemetry.EventRunError, runID, env.tc.ID, run.Error, nil)
		o.logger.Warn("run failed",
			zap.String("run_id", runID), zap.String("error", run.Error))
	}
	o.emitter.Emit(telemetry.EventRunFinish, runID, env.tc.ID, "run finish", map[string]any{
		"status": string(run.Status),
	})
	return run
}

// baselineRun is the unstructured comparison shape: plain question prompt,
// simulated answer, single-turn evaluation, constraint check.
func (o *Orchestrator) baselineRun(ctx context.Context, env *caseEnv, runID string, subject *llm.Handle) *RunRecord {
	run := newRunRecord(MethodBaseline, string(subject.Type), subject.ModelID)
	defer run.mergeStepMetrics()

	o.stepStart(runID, env.tc.ID, "generated_question")
	questionRes := o.models.Execute(ctx, subject, baselineQuestionPrompt(env.tc), llm.DefaultParams())
	questionStep := stepFromResult(questionRes)
	run.addStep("generated_question", questionStep)
	o.stepFinish(runID, env.tc.ID, "generated_question", questionStep)
	if questionRes.Failed() {
		run.fail(errs.Transport("question generation: %s", questionRes.Err))
		return run
	}
	question := questionRes.Text

	o.stepStart(runID, env.tc.ID, "student_answer")
	answer, answerStep, err := o.studentAnswer(ctx, env, question, 0)
	run.addStep("student_answer", answerStep)
	o.stepFinish(runID, env.tc.ID, "student_answer", answerStep)
	if err != nil {
		run.fail(err)
		return run
	}

	o.stepStart(runID, env.tc.ID, "baseline_evaluation")
	evalStep, verdict := o.baselineEvaluation(ctx, env, subject, question, answer)
	run.addStep("baseline_evaluation", evalStep)
	o.stepFinish(runID, env.tc.ID, "baseline_evaluation", evalStep)

	o.stepStart(runID, env.tc.ID, "constraint_enforcement")
	enforced := o.enforcer.Enforce(answer, env.constraints)
	enforcedStep := constraintStep(enforced)
	run.addStep("constraint_enforcement", enforcedStep)
	o.stepFinish(runID, env.tc.ID, "constraint_enforcement", enforcedStep)

	passed, _ := verdict["passed"].(bool)
	score, _ := verdict["score"].(float64)
	run.FinalDecision = &FinalDecision{
		PassedEvaluation:  &passed,
		PassedConstraints: enforced.Passed,
		FinalScore:        score,
	}
	run.Status = StatusCompleted
	return run
}

// structuredRun is the method under evaluation: templated question, simulated
// answer, multi-stage validation, constraint check, and a teacher review only
// when something failed.
func (o *Orchestrator) structuredRun(ctx context.Context, env *caseEnv, runID string, subject *llm.Handle) *RunRecord {
	run := newRunRecord(MethodStructured, string(subject.Type), subject.ModelID)
	defer run.mergeStepMetrics()

	if env.teacherReq == nil {
		run.fail(errs.Parse("teacher request unavailable for this case"))
		return run
	}

	questionTemplate := env.teacherReq.QuestionTemplateID
	if questionTemplate == "" {
		questionTemplate = DefaultQuestionTemplate
	}
	vars := env.teacherReq.templateVars()
	for k, v := range env.tc.TeacherRequestContext {
		if _, exists := vars[k]; !exists {
			vars[k] = v
		}
	}
	prompt, _, err := o.templates.Process(questionTemplate, vars)
	if err != nil {
		run.fail(errs.Wrap(errs.KindConfig, err, "question template %s", questionTemplate))
		return run
	}

	o.stepStart(runID, env.tc.ID, "generated_question")
	questionRes := o.models.Execute(ctx, subject, prompt, llm.DefaultParams())
	questionStep := stepFromResult(questionRes)
	run.addStep("generated_question", questionStep)
	o.stepFinish(runID, env.tc.ID, "generated_question", questionStep)
	if questionRes.Failed() {
		run.fail(errs.Transport("question generation: %s", questionRes.Err))
		return run
	}
	question := questionRes.Text

	wordTarget := 0
	if max, ok := env.teacherReq.maxWords(); ok {
		wordTarget = max / 2
	}
	o.stepStart(runID, env.tc.ID, "student_answer")
	answer, answerStep, err := o.studentAnswer(ctx, env, question, wordTarget)
	run.addStep("student_answer", answerStep)
	o.stepFinish(runID, env.tc.ID, "student_answer", answerStep)
	if err != nil {
		run.fail(err)
		return run
	}

	o.stepStart(runID, env.tc.ID, "multi_stage_validation")
	validationResult, err := o.validator.Validate(ctx, env.sequenceID, question, answer,
		env.teacherReq.templateVars(), o.executor(subject), o.models.RepairFunc(subject))
	if err != nil {
		failedStep := &Step{Executed: true, Error: err.Error()}
		run.addStep("multi_stage_validation", failedStep)
		o.stepFinish(runID, env.tc.ID, "multi_stage_validation", failedStep)
		run.fail(err)
		return run
	}
	vStep := validationStep(validationResult)
	run.addStep("multi_stage_validation", vStep)
	o.stepFinish(runID, env.tc.ID, "multi_stage_validation", vStep)

	o.stepStart(runID, env.tc.ID, "constraint_enforcement")
	enforced := o.enforcer.Enforce(answer, env.constraints)
	enforcedStep := constraintStep(enforced)
	run.addStep("constraint_enforcement", enforcedStep)
	o.stepFinish(runID, env.tc.ID, "constraint_enforcement", enforcedStep)

	if !validationResult.IsValid || !enforced.Passed {
		o.stepStart(runID, env.tc.ID, "teacher_review")
		reviewStep := o.teacherReview(ctx, env, question, answer, validationResult, enforced)
		run.addStep("teacher_review", reviewStep)
		o.stepFinish(runID, env.tc.ID, "teacher_review", reviewStep)
	} else {
		run.addStep("teacher_review", &Step{Skipped: "validation and constraints passed"})
	}

	passed := validationResult.IsValid
	run.FinalDecision = &FinalDecision{
		PassedValidation:  &passed,
		PassedConstraints: enforced.Passed,
		FinalScore:        validationResult.FinalScore,
		Feedback:          validationResult.AggregateFeedback,
	}
	run.Status = StatusCompleted
	return run
}

// teacherRequest asks the cloud model for the structured task specification.
// Executed once per test case; both the request and the raw step are shared
// by every record the case produces.
func (o *Orchestrator) teacherRequest(ctx context.Context, cloud *llm.Handle, tc config.TestCase) (*TeacherRequest, *Step) {
	templateName := tc.TeacherRequestTemplate
	if templateName == "" {
		templateName = DefaultTeacherRequestTemplate
	}
	prompt, _, err := o.templates.Process(templateName, tc.TeacherRequestContext)
	if err != nil {
		return nil, &Step{Executed: true, Error: err.Error()}
	}

	res := o.models.Execute(ctx, cloud, prompt, llm.Params{
		Temperature:  0.7,
		MaxTokens:    1024,
		JSONResponse: true,
	})
	step := stepFromResult(res)
	if res.Failed() {
		return nil, step
	}

	req, err := parseTeacherRequest(res.Text)
	if err != nil {
		step.Error = err.Error()
		o.logger.Warn("teacher request not parseable",
			zap.String("case_id", tc.ID), zap.Error(err))
		return nil, step
	}
	step.Parsed = map[string]any{
		"topic":              req.Topic,
		"learning_objective": req.LearningObjective,
	}
	return req, step
}

// studentAnswer has the cloud model simulate a student response. Both run
// shapes use the same persona so the comparison stays fair.
func (o *Orchestrator) studentAnswer(ctx context.Context, env *caseEnv, question string, wordTarget int) (string, *Step, error) {
	templateName := env.tc.StudentAnswerTemplate
	if templateName == "" {
		templateName = DefaultStudentAnswerTemplate
	}
	profile := env.tc.StudentPersonaProfile
	if profile == "" {
		profile = "Average student."
	}
	vars := map[string]any{
		"question_text":           question,
		"student_profile_details": profile,
	}
	if wordTarget > 0 {
		vars["word_count_target"] = wordTarget
	}

	prompt, _, err := o.templates.Process(templateName, vars)
	if err != nil {
		return "", &Step{Executed: true, Error: err.Error()},
			errs.Wrap(errs.KindConfig, err, "student answer template %s", templateName)
	}
	res := o.models.Execute(ctx, env.cloud, prompt, llm.DefaultParams())
	step := stepFromResult(res)
	if res.Failed() {
		return "", step, errs.Transport("student answer: %s", res.Err)
	}
	if res.Text == "" {
		return "", step, errs.Parse("student answer is empty")
	}
	return res.Text, step, nil
}

// baselineEvaluation is the single-turn judgment in the baseline shape. A
// failed or unparseable evaluation is recorded but never fatal; the run
// continues with the default verdict.
func (o *Orchestrator) baselineEvaluation(ctx context.Context, env *caseEnv, subject *llm.Handle, question, answer string) (*Step, map[string]any) {
	defaults := map[string]any{"passed": false, "score": 0.0, "feedback": "Evaluation step failed"}

	criteria, _ := json.MarshalIndent(env.tc.EvaluationCriteria, "", "  ")
	prompt, _, err := o.templates.Process(DefaultBaselineEvalTemplate, map[string]any{
		"question_text":       question,
		"student_answer":      answer,
		"evaluation_criteria": string(criteria),
	})
	if err != nil {
		return &Step{Executed: true, Error: err.Error()}, defaults
	}

	res := o.models.Execute(ctx, subject, prompt, llm.LowTempJSONParams())
	step := stepFromResult(res)
	if res.Failed() {
		step.Parsed = defaults
		return step, defaults
	}

	verdict, method := jsonx.Parse(res.Text,
		jsonx.RequiredValidationKeys,
		map[string]any{"passed": false, "score": 0.0, "feedback": "Parsing failed"})
	if method == jsonx.MethodFailed || method == jsonx.MethodEmpty {
		o.emitter.Emit(telemetry.EventParseRecovered, "", env.tc.ID,
			"baseline evaluation fell back to defaults", nil)
	}
	step.Parsed = verdict
	return step, verdict
}

// teacherReview is the conditional cloud-model review triggered by a failed
// validation or constraint check. Best effort: parse failures are recorded
// but do not fail the run.
func (o *Orchestrator) teacherReview(ctx context.Context, env *caseEnv, question, answer string, vres *validation.Result, enforced constraint.Result) *Step {
	prompt, _, err := o.templates.Process(DefaultTeacherReviewTemplate, map[string]any{
		"question":              question,
		"student_answer":        answer,
		"validation_feedback":   vres.AggregateFeedback,
		"constraint_violations": strings.Join(enforced.Violations, "; "),
	})
	if err != nil {
		return &Step{Executed: true, Error: err.Error()}
	}

	res := o.models.Execute(ctx, env.cloud, prompt, llm.Params{
		Temperature:  0.2,
		MaxTokens:    1024,
		JSONResponse: true,
	})
	step := stepFromResult(res)
	if res.Failed() {
		return step
	}
	if parsed, _, ok := jsonx.Extract(res.Text); ok {
		step.Parsed = parsed
	} else {
		step.Error = "review output is not valid JSON"
	}
	return step
}

// stepStart and stepFinish bracket every executed pipeline step in the event
// stream. Skipped steps emit nothing.
func (o *Orchestrator) stepStart(runID, caseID, name string) {
	o.emitter.Emit(telemetry.EventStepStart, runID, caseID, name, nil)
}

func (o *Orchestrator) stepFinish(runID, caseID, name string, step *Step) {
	meta := map[string]any{"executed": step.Executed}
	if step.Error != "" {
		meta["error"] = step.Error
	}
	o.emitter.Emit(telemetry.EventStepFinish, runID, caseID, name, meta)
}

func (o *Orchestrator) executor(subject *llm.Handle) validation.Executor {
	return func(ctx context.Context, prompt string, params llm.Params) llm.ExecutionResult {
		return o.models.Execute(ctx, subject, prompt, params)
	}
}

// resolveConstraints picks one constraint set per case so both run shapes
// enforce the same rules. Teacher request constraints win, then the test
// case's desired constraints, then the suite defaults.
func (o *Orchestrator) resolveConstraints(req *TeacherRequest, tc config.TestCase) constraint.Set {
	if req != nil && len(req.Constraints) > 0 {
		return constraint.FromMap(req.Constraints)
	}
	if desired, ok := tc.TeacherRequestContext["desired_constraints"].(map[string]any); ok && len(desired) > 0 {
		return constraint.FromMap(desired)
	}
	if len(o.suite.DefaultConstraints) > 0 {
		return constraint.FromMap(o.suite.DefaultConstraints)
	}
	minWords, maxWords := 30, 200
	return constraint.Set{
		MinWords:           &minWords,
		MaxWords:           &maxWords,
		ProhibitedKeywords: []string{"inappropriate", "violent"},
	}
}

// baselineQuestionPrompt builds the deliberately unstructured prompt the
// baseline shape uses instead of a template.
func baselineQuestionPrompt(tc config.TestCase) string {
	topic := stringOr(tc.TeacherRequestContext["topic"], "a relevant topic")
	objective := stringOr(tc.TeacherRequestContext["learning_objective"], "explain something simply")
	grade := "Grade 5"
	if desired, ok := tc.TeacherRequestContext["desired_constraints"].(map[string]any); ok {
		grade = stringOr(desired["safety"], grade)
	}
	return fmt.Sprintf("Generate a single, clear question about '%s' suitable for %s. The question should relate to the objective: %s.",
		topic, grade, objective)
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func stepFromResult(res llm.ExecutionResult) *Step {
	return &Step{Output: res.Text, Metrics: res.Metrics, Error: res.Err, Executed: true}
}

func constraintStep(result constraint.Result) *Step {
	return &Step{
		Executed: true,
		Parsed: map[string]any{
			"passed":     result.Passed,
			"violations": result.Violations,
		},
	}
}

func validationStep(result *validation.Result) *Step {
	return &Step{
		Executed: true,
		Metrics:  result.Metrics,
		Parsed: map[string]any{
			"is_valid":           result.IsValid,
			"final_score":        result.FinalScore,
			"aborted":            result.Aborted,
			"aggregate_feedback": result.AggregateFeedback,
			"stages":             result.StageResults,
		},
	}
}

func caseRecordID(suiteID, caseID, edgeID string) string {
	base := idSanitizer.ReplaceAllString(suiteID+"_"+caseID+"_"+edgeID, "_")
	return base + "_" + uuid.NewString()[:8]
}
