package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedRecord(id string, statuses map[string]Status) *CaseRecord {
	record := &CaseRecord{
		ID:        id,
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		SuiteID:   "suite",
		CaseID:    "case",
		Runs:      map[string]*RunRecord{},
	}
	for key, status := range statuses {
		record.Runs[key] = &RunRecord{Method: runMethod(key), Status: status, Steps: map[string]*Step{}}
	}
	return record
}

func allCompleted() map[string]Status {
	return map[string]Status{
		RunBaselineCloud:   StatusCompleted,
		RunStructuredCloud: StatusCompleted,
		RunBaselineEdge:    StatusCompleted,
		RunStructuredEdge:  StatusCompleted,
	}
}

func TestLogWritesRecordAndAggregate(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewResultLogger(dir, nil)
	require.NoError(t, err)

	record := completedRecord("suite_case_model/with:bad chars", allCompleted())
	path, err := logger.Log(record)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.NotContains(t, filepath.Base(path), "/")
	assert.NotContains(t, filepath.Base(path), " ")
	assert.FileExists(t, filepath.Join(dir, allResultsFile))

	loaded, err := logger.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, record.ID, loaded[0].ID)
	assert.Equal(t, StatusCompleted, loaded[0].Runs[RunStructuredEdge].Status)
}

func TestLoadAllSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewResultLogger(dir, nil)
	require.NoError(t, err)

	_, err = logger.Log(completedRecord("good", allCompleted()))
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, allResultsFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = logger.Log(completedRecord("also-good", allCompleted()))
	require.NoError(t, err)

	loaded, err := logger.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "good", loaded[0].ID)
	assert.Equal(t, "also-good", loaded[1].ID)
}

func TestLoadAllWithoutFile(t *testing.T) {
	logger, err := NewResultLogger(t.TempDir(), nil)
	require.NoError(t, err)
	loaded, err := logger.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLogAggregate(t *testing.T) {
	logger, err := NewResultLogger(t.TempDir(), nil)
	require.NoError(t, err)
	path, err := logger.LogAggregate("suite_run_summary", map[string]int{"total": 3})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSummarizeCountsRunsAndPairings(t *testing.T) {
	records := []*CaseRecord{
		completedRecord("r1", allCompleted()),
		completedRecord("r2", map[string]Status{
			RunBaselineCloud:   StatusCompleted,
			RunStructuredCloud: StatusFailed,
			RunBaselineEdge:    StatusCompleted,
			RunStructuredEdge:  StatusFailed,
		}),
		completedRecord("r3", map[string]Status{
			RunBaselineCloud: StatusFailed,
			RunBaselineEdge:  StatusCompleted,
		}),
	}

	stats := Summarize(records)
	assert.Equal(t, 3, stats.TotalExperiments)
	assert.Equal(t, RunTally{Completed: 2, Failed: 1}, stats.Runs[RunBaselineCloud])
	assert.Equal(t, RunTally{Completed: 3, Failed: 0}, stats.Runs[RunBaselineEdge])
	assert.Equal(t, RunTally{Completed: 1, Failed: 1}, stats.Runs[RunStructuredEdge])

	assert.Equal(t, 1, stats.PrimaryComparison.Run4VsRun3Completed)
	assert.Equal(t, 2, stats.PrimaryComparison.Run3VsRun1Completed)
	assert.Equal(t, 1, stats.PrimaryComparison.Run4VsRun1Completed)
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	assert.Zero(t, stats.TotalExperiments)
	assert.Equal(t, RunTally{}, stats.Runs[RunBaselineCloud])
}
