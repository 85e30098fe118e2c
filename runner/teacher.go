package runner

import (
	"github.com/lexcodex/edgeprompt/errs"
	"github.com/lexcodex/edgeprompt/jsonx"
)

// TeacherRequest is the structured task specification produced once per test
// case by the cloud model. It is shared read-only across all four runs so the
// comparison stays on the same topic.
type TeacherRequest struct {
	Topic              string         `json:"topic"`
	LearningObjective  string         `json:"learning_objective"`
	ContentType        string         `json:"content_type,omitempty"`
	Constraints        map[string]any `json:"constraints"`
	QuestionTemplateID string         `json:"question_template_id,omitempty"`
}

// parseTeacherRequest extracts a teacher request from raw model output. A
// request without a topic is unusable and treated as a parse failure.
func parseTeacherRequest(text string) (*TeacherRequest, error) {
	obj, _, ok := jsonx.Extract(text)
	if !ok {
		return nil, errs.Parse("teacher request output is not valid JSON")
	}
	var req TeacherRequest
	if err := jsonx.DecodeInto(obj, &req); err != nil {
		return nil, errs.Wrap(errs.KindParse, err, "decoding teacher request")
	}
	if req.Topic == "" {
		return nil, errs.Parse("teacher request is missing a topic")
	}
	return &req, nil
}

// templateVars flattens the request into template variables for question
// generation.
func (t *TeacherRequest) templateVars() map[string]any {
	if t == nil {
		return map[string]any{}
	}
	vars := map[string]any{
		"topic":              t.Topic,
		"learning_objective": t.LearningObjective,
	}
	if t.ContentType != "" {
		vars["content_type"] = t.ContentType
	}
	for k, v := range t.Constraints {
		vars[k] = v
	}
	return vars
}

// maxWords pulls the word ceiling out of the request constraints, if present.
func (t *TeacherRequest) maxWords() (int, bool) {
	if t == nil || t.Constraints == nil {
		return 0, false
	}
	switch v := t.Constraints["maxWords"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
