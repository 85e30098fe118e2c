// Package telemetry carries the structured event stream emitted while a suite
// executes. Sinks are deliberately small interfaces so tests can swap in
// recorders and deployments can fan out to files and loggers at once.
package telemetry

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventSuiteStart     EventType = "suite_start"
	EventSuiteFinish    EventType = "suite_finish"
	EventRunStart       EventType = "run_start"
	EventRunFinish      EventType = "run_finish"
	EventRunError       EventType = "run_error"
	EventStepStart      EventType = "step_start"
	EventStepFinish     EventType = "step_finish"
	EventLLMCall        EventType = "llm_call"
	EventLLMResponse    EventType = "llm_response"
	EventParseRecovered EventType = "parse_recovered"
	EventStageResult    EventType = "stage_result"
)

// Event captures one structured telemetry record.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	CaseID    string         `json:"case_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink receives emitted events. Implementations must tolerate concurrent
// calls.
type Sink interface {
	Emit(event Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multiplex broadcasts events to multiple sinks.
type Multiplex struct {
	Sinks []Sink
}

// Emit forwards the event to all registered sinks.
func (m Multiplex) Emit(event Event) {
	for _, s := range m.Sinks {
		s.Emit(event)
	}
}

// JSONLSink writes events as newline-delimited JSON to a file so external
// tools can tail the stream while a suite runs.
type JSONLSink struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONLSink opens (or creates) the event log file in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes the JSON record.
func (j *JSONLSink) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONLSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// ZapSink mirrors events onto a structured logger, which keeps every step
// transition visible during local debugging without extra tooling.
type ZapSink struct {
	Logger *zap.Logger
}

// Emit logs the event at debug level, errors at warn.
func (z ZapSink) Emit(event Event) {
	logger := z.Logger
	if logger == nil {
		logger = zap.L()
	}
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("case_id", event.CaseID),
		zap.Any("metadata", event.Metadata),
	}
	if event.Type == EventRunError {
		logger.Warn(string(event.Type)+" "+event.Message, fields...)
		return
	}
	logger.Debug(string(event.Type)+" "+event.Message, fields...)
}

// Emitter stamps events with the wall clock before dispatching to a sink.
// A nil Emitter or nil sink is safe to use and drops everything.
type Emitter struct {
	sink Sink
	now  func() time.Time
}

// NewEmitter wraps a sink. A nil sink yields a no-op emitter.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink, now: time.Now}
}

// Emit stamps and dispatches one event.
func (e *Emitter) Emit(eventType EventType, runID, caseID, message string, metadata map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	e.sink.Emit(Event{
		Type:      eventType,
		RunID:     runID,
		CaseID:    caseID,
		Message:   message,
		Timestamp: e.now(),
		Metadata:  metadata,
	})
}
