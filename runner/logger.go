package runner

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/errs"
)

const allResultsFile = "all_results.jsonl"

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._\-]`)

// ResultLogger writes one pretty-printed JSON file per case record plus an
// append-only JSONL aggregate for batch processing.
type ResultLogger struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewResultLogger creates the output directory if needed.
func NewResultLogger(dir string, logger *zap.Logger) (*ResultLogger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "creating output directory %s", dir)
	}
	return &ResultLogger{dir: dir, logger: logger.Named("results"), now: time.Now}, nil
}

// Log writes the record to its own file and appends it to the aggregate
// JSONL. Returns the per-record file path.
func (l *ResultLogger) Log(record *CaseRecord) (string, error) {
	filename := sanitizeFilename(record.ID+"_"+l.now().Format("20060102T150405")) + ".json"
	path := filepath.Join(l.dir, filename)

	pretty, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.KindParse, err, "encoding record %s", record.ID)
	}
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return "", errs.Wrap(errs.KindConfig, err, "writing %s", path)
	}

	if err := l.appendJSONL(record); err != nil {
		return "", err
	}
	l.logger.Info("logged case record",
		zap.String("record_id", record.ID), zap.String("path", path))
	return path, nil
}

func (l *ResultLogger) appendJSONL(record *CaseRecord) error {
	path := filepath.Join(l.dir, allResultsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindConfig, err, "opening %s", path)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(record)
}

// LogAggregate writes any value as a timestamped standalone JSON document.
func (l *ResultLogger) LogAggregate(name string, v any) (string, error) {
	filename := sanitizeFilename(name+"_"+l.now().Format("20060102_150405")) + ".json"
	path := filepath.Join(l.dir, filename)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.KindParse, err, "encoding aggregate %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.KindConfig, err, "writing %s", path)
	}
	return path, nil
}

// LoadAll reads every record from the aggregate JSONL. Undecodable lines are
// skipped with a log entry rather than failing the load.
func (l *ResultLogger) LoadAll() ([]*CaseRecord, error) {
	path := filepath.Join(l.dir, allResultsFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindConfig, err, "opening %s", path)
	}
	defer f.Close()

	var records []*CaseRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var record CaseRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			l.logger.Warn("skipping undecodable result line", zap.Error(err))
			continue
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return records, errs.Wrap(errs.KindParse, err, "reading %s", path)
	}
	return records, nil
}

// RunTally counts outcomes for one matrix slot.
type RunTally struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// SummaryStats aggregates completion rates over the four-run structure. The
// primary comparison counts cases where both runs of a pairing completed.
type SummaryStats struct {
	TotalExperiments  int                 `json:"total_experiments"`
	Runs              map[string]RunTally `json:"runs"`
	PrimaryComparison struct {
		Run4VsRun3Completed int `json:"run_4_vs_run_3_completed"`
		Run3VsRun1Completed int `json:"run_3_vs_run_1_completed"`
		Run4VsRun1Completed int `json:"run_4_vs_run_1_completed"`
	} `json:"primary_comparison"`
}

// Summarize computes completion statistics over a set of case records.
func Summarize(records []*CaseRecord) SummaryStats {
	stats := SummaryStats{
		TotalExperiments: len(records),
		Runs:             map[string]RunTally{},
	}
	for _, key := range RunKeys {
		stats.Runs[key] = RunTally{}
	}

	completed := func(record *CaseRecord, key string) bool {
		run, ok := record.Runs[key]
		return ok && run.Status == StatusCompleted
	}

	for _, record := range records {
		for _, key := range RunKeys {
			run, ok := record.Runs[key]
			if !ok {
				continue
			}
			tally := stats.Runs[key]
			switch {
			case run.Status == StatusCompleted:
				tally.Completed++
			case run.Status == StatusFailed || run.Error != "":
				tally.Failed++
			}
			stats.Runs[key] = tally
		}

		if completed(record, RunStructuredEdge) && completed(record, RunBaselineEdge) {
			stats.PrimaryComparison.Run4VsRun3Completed++
		}
		if completed(record, RunBaselineEdge) && completed(record, RunBaselineCloud) {
			stats.PrimaryComparison.Run3VsRun1Completed++
		}
		if completed(record, RunStructuredEdge) && completed(record, RunBaselineCloud) {
			stats.PrimaryComparison.Run4VsRun1Completed++
		}
	}
	return stats
}

func sanitizeFilename(name string) string {
	return filenameSanitizer.ReplaceAllString(name, "")
}
