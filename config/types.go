// Package config loads the experiment's declarative documents: the test
// suite, prompt templates, validation sequences, and the model catalog.
// Documents are YAML or JSON; yaml.v3 reads both. Loaded values are treated
// as immutable by every consumer.
package config

// Template is a declarative prompt pattern with [name] placeholders,
// per-variable defaults, and constraint data appended at render time.
type Template struct {
	ID          string         `yaml:"id" json:"id"`
	Type        string         `yaml:"type" json:"type"`
	Pattern     string         `yaml:"pattern" json:"pattern"`
	Variables   map[string]any `yaml:"variables" json:"variables"`
	Constraints []string       `yaml:"constraints" json:"constraints"`
	AnswerSpace AnswerSpace    `yaml:"answerSpace" json:"answerSpace"`
}

// AnswerSpace bounds the expected answer. Unknown keys land in Other and are
// rendered as extra constraint lines.
type AnswerSpace struct {
	MinWords          *int           `yaml:"minWords" json:"minWords"`
	MaxWords          *int           `yaml:"maxWords" json:"maxWords"`
	Vocabulary        string         `yaml:"vocabulary" json:"vocabulary"`
	Structure         string         `yaml:"structure" json:"structure"`
	ProhibitedContent []string       `yaml:"prohibitedContent" json:"prohibitedContent"`
	Other             map[string]any `yaml:"other" json:"other"`
}

// Sequence is an ordered multi-stage validation plan. AbortOnFailure is the
// sequence-wide default (true when unset); PassingThreshold is only compared
// when the document defines it.
type Sequence struct {
	ID               string   `yaml:"id" json:"id"`
	Stages           []Stage  `yaml:"stages" json:"stages"`
	AbortOnFailure   *bool    `yaml:"abortOnFailure" json:"abortOnFailure"`
	PassingThreshold *float64 `yaml:"passing_threshold" json:"passing_threshold"`
}

// Stage is one LLM-judged check inside a sequence. AbortOnFailure overrides
// the sequence default when set. Weight accepts both the "weight" and the
// older "scoringImpact" spellings.
type Stage struct {
	ID             string  `yaml:"id" json:"id"`
	TemplateID     string  `yaml:"template_id" json:"template_id"`
	Priority       int     `yaml:"priority" json:"priority"`
	Weight         float64 `yaml:"-" json:"-"`
	AbortOnFailure *bool   `yaml:"abortOnFailure" json:"abortOnFailure"`
}

type stageDoc struct {
	ID             string   `yaml:"id" json:"id"`
	TemplateID     string   `yaml:"template_id" json:"template_id"`
	Priority       int      `yaml:"priority" json:"priority"`
	Weight         *float64 `yaml:"weight" json:"weight"`
	ScoringImpact  *float64 `yaml:"scoringImpact" json:"scoringImpact"`
	AbortOnFailure *bool    `yaml:"abortOnFailure" json:"abortOnFailure"`
}

func (s *Stage) fromDoc(doc stageDoc) {
	s.ID = doc.ID
	s.TemplateID = doc.TemplateID
	s.Priority = doc.Priority
	s.AbortOnFailure = doc.AbortOnFailure
	switch {
	case doc.Weight != nil:
		s.Weight = *doc.Weight
	case doc.ScoringImpact != nil:
		s.Weight = *doc.ScoringImpact
	default:
		s.Weight = 1.0
	}
}

// UnmarshalYAML resolves the weight/scoringImpact alias.
func (s *Stage) UnmarshalYAML(unmarshal func(any) error) error {
	var doc stageDoc
	if err := unmarshal(&doc); err != nil {
		return err
	}
	s.fromDoc(doc)
	return nil
}

// Suite is the top-level experiment document.
type Suite struct {
	ID                 string         `yaml:"test_suite_id" json:"test_suite_id"`
	Description        string         `yaml:"description" json:"description"`
	Templates          []string       `yaml:"templates" json:"templates"`
	Models             SuiteModels    `yaml:"models" json:"models"`
	ValidationSequence string         `yaml:"validation_sequence" json:"validation_sequence"`
	TestCases          []TestCase     `yaml:"test_cases" json:"test_cases"`
	DefaultConstraints map[string]any `yaml:"default_constraints" json:"default_constraints"`
}

// SuiteModels names the cloud model and the edge models under comparison.
type SuiteModels struct {
	Cloud string   `yaml:"cloud" json:"cloud"`
	Edge  []string `yaml:"edge" json:"edge"`
}

// TestCase seeds one four-run comparison.
type TestCase struct {
	ID                     string         `yaml:"id" json:"id"`
	TeacherRequestContext  map[string]any `yaml:"teacher_request_context" json:"teacher_request_context"`
	TeacherRequestTemplate string         `yaml:"teacher_request_template" json:"teacher_request_template"`
	StudentAnswerTemplate  string         `yaml:"student_answer_template" json:"student_answer_template"`
	StudentPersonaProfile  string         `yaml:"student_persona_profile" json:"student_persona_profile"`
	EvaluationCriteria     map[string]any `yaml:"evaluation_criteria" json:"evaluation_criteria"`
}

// ModelCatalog splits the available models into cloud and edge lists.
type ModelCatalog struct {
	CloudModels []ModelSpec `yaml:"cloud_llm_models" json:"cloud_llm_models"`
	EdgeModels  []ModelSpec `yaml:"edge_llm_models" json:"edge_llm_models"`
}

// ModelSpec describes one callable model.
type ModelSpec struct {
	ModelID       string `yaml:"model_id" json:"model_id"`
	Provider      string `yaml:"provider" json:"provider"`
	APIIdentifier string `yaml:"api_identifier" json:"api_identifier"`
	BaseURL       string `yaml:"base_url" json:"base_url"`
}

// Find returns the spec for a model id, searching cloud models first.
func (c ModelCatalog) Find(modelID string) (ModelSpec, bool) {
	for _, m := range c.CloudModels {
		if m.ModelID == modelID {
			return m, true
		}
	}
	for _, m := range c.EdgeModels {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// IsEdge reports whether the id belongs to the edge model list.
func (c ModelCatalog) IsEdge(modelID string) bool {
	for _, m := range c.EdgeModels {
		if m.ModelID == modelID {
			return true
		}
	}
	return false
}
