// Package metrics collects latency and token usage for model calls. It covers
// the lightweight measurements the experiments need: per-call latency, token
// counts, throughput, and merging across pipeline steps.
package metrics

import "time"

// Metrics describes one timed model call, or a merge of several.
type Metrics struct {
	LatencyMS       int64   `json:"latency_ms"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	MergedSteps     int     `json:"merged_steps,omitempty"`
}

// IsZero reports whether no measurement was recorded.
func (m Metrics) IsZero() bool {
	return m.LatencyMS == 0 && m.InputTokens == 0 && m.OutputTokens == 0 &&
		m.TotalTokens == 0 && m.TokensPerSecond == 0
}

// Collector times a single operation and records its token usage. The
// start/stop pair is not reentrant: exactly one collector is shared per
// orchestrator and a new timed operation must wait for the prior one to stop.
type Collector struct {
	start   time.Time
	started bool
	data    Metrics
	now     func() time.Time
}

// NewCollector returns a collector using the wall clock.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// StartTimer begins timing a new operation, discarding any previous data.
func (c *Collector) StartTimer() {
	c.start = c.now()
	c.started = true
	c.data = Metrics{}
}

// StopTimer ends the current measurement and returns the elapsed milliseconds.
// Stopping a timer that was never started records nothing and returns -1.
func (c *Collector) StopTimer() int64 {
	if !c.started {
		return -1
	}
	elapsed := c.now().Sub(c.start).Milliseconds()
	c.data.LatencyMS = elapsed
	c.started = false
	return elapsed
}

// Running reports whether a timed operation is in flight.
func (c *Collector) Running() bool { return c.started }

// RecordTokens stores token counts for the current measurement and derives
// throughput from the recorded latency.
func (c *Collector) RecordTokens(inputTokens, outputTokens int) {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	c.data.InputTokens = inputTokens
	c.data.OutputTokens = outputTokens
	c.data.TotalTokens = inputTokens + outputTokens
	c.data.TokensPerSecond = throughput(c.data.LatencyMS, outputTokens)
}

// Results returns the metrics of the last completed measurement.
func (c *Collector) Results() Metrics { return c.data }

// Reset clears the collector state.
func (c *Collector) Reset() {
	c.started = false
	c.data = Metrics{}
}

// Merge sums a list of per-step metrics into one summary and recomputes the
// aggregate throughput. Zero-valued entries are skipped and do not count
// toward MergedSteps.
func Merge(list []Metrics) Metrics {
	var merged Metrics
	for _, m := range list {
		if m.IsZero() {
			continue
		}
		merged.LatencyMS += m.LatencyMS
		merged.InputTokens += m.InputTokens
		merged.OutputTokens += m.OutputTokens
		merged.TotalTokens += m.TotalTokens
		merged.MergedSteps++
	}
	merged.TokensPerSecond = throughput(merged.LatencyMS, merged.OutputTokens)
	return merged
}

func throughput(latencyMS int64, outputTokens int) float64 {
	if latencyMS <= 0 || outputTokens <= 0 {
		return 0
	}
	return round2(float64(outputTokens) / (float64(latencyMS) / 1000.0))
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
