package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func collectorAt(start time.Time, steps ...time.Duration) *Collector {
	c := NewCollector()
	current := start
	i := 0
	c.now = func() time.Time {
		if i < len(steps) {
			current = current.Add(steps[i])
			i++
		}
		return current
	}
	return c
}

func TestCollectorTimesAndDerivesThroughput(t *testing.T) {
	c := collectorAt(time.Unix(0, 0), 0, 2*time.Second)
	c.StartTimer()
	assert.True(t, c.Running())
	elapsed := c.StopTimer()
	assert.EqualValues(t, 2000, elapsed)
	assert.False(t, c.Running())

	c.RecordTokens(120, 40)
	got := c.Results()
	assert.EqualValues(t, 2000, got.LatencyMS)
	assert.Equal(t, 160, got.TotalTokens)
	assert.InDelta(t, 20.0, got.TokensPerSecond, 0.01)
}

func TestStopWithoutStart(t *testing.T) {
	c := NewCollector()
	assert.EqualValues(t, -1, c.StopTimer())
	assert.True(t, c.Results().IsZero())
}

func TestRecordTokensClampsNegative(t *testing.T) {
	c := NewCollector()
	c.RecordTokens(-5, -7)
	got := c.Results()
	assert.Zero(t, got.InputTokens)
	assert.Zero(t, got.OutputTokens)
	assert.Zero(t, got.TotalTokens)
}

func TestMergeSumsAndSkipsEmpty(t *testing.T) {
	merged := Merge([]Metrics{
		{LatencyMS: 1000, InputTokens: 10, OutputTokens: 20, TotalTokens: 30, TokensPerSecond: 20},
		{},
		{LatencyMS: 1000, InputTokens: 5, OutputTokens: 20, TotalTokens: 25, TokensPerSecond: 20},
	})
	assert.EqualValues(t, 2000, merged.LatencyMS)
	assert.Equal(t, 15, merged.InputTokens)
	assert.Equal(t, 40, merged.OutputTokens)
	assert.Equal(t, 55, merged.TotalTokens)
	assert.Equal(t, 2, merged.MergedSteps)
	assert.InDelta(t, 20.0, merged.TokensPerSecond, 0.01)
}

func TestMergeEmptyList(t *testing.T) {
	assert.True(t, Merge(nil).IsZero())
}
