package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestMultiplexFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multiplex{Sinks: []Sink{a, b}}
	m.Emit(Event{Type: EventRunStart, RunID: "run_1"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, EventRunStart, b.events[0].Type)
}

func TestJSONLSinkWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	sink.Emit(Event{Type: EventSuiteStart, Message: "suite begin"})
	sink.Emit(Event{Type: EventLLMCall, RunID: "run_2", Metadata: map[string]any{"model": "mock"}})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, EventSuiteStart, lines[0].Type)
	assert.Equal(t, "run_2", lines[1].RunID)
	assert.Equal(t, "mock", lines[1].Metadata["model"])
}

func TestEmitterStampsTimestamp(t *testing.T) {
	rec := &recordingSink{}
	em := NewEmitter(rec)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	em.now = func() time.Time { return fixed }

	em.Emit(EventStepStart, "run_3", "case-1", "question generation", nil)

	require.Len(t, rec.events, 1)
	assert.Equal(t, fixed, rec.events[0].Timestamp)
	assert.Equal(t, "case-1", rec.events[0].CaseID)
}

func TestNilEmitterIsSafe(t *testing.T) {
	var em *Emitter
	em.Emit(EventRunError, "", "", "dropped", nil)
	NewEmitter(nil).Emit(EventRunError, "", "", "dropped", nil)
}
