package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/persistence"
	"github.com/lexcodex/edgeprompt/runner"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

// slotLabels maps the matrix keys to human-readable method/subject pairs.
var slotLabels = map[string][2]string{
	runner.RunBaselineCloud:   {"baseline", "cloud"},
	runner.RunStructuredCloud: {"edgeprompt", "cloud"},
	runner.RunBaselineEdge:    {"baseline", "edge"},
	runner.RunStructuredEdge:  {"edgeprompt", "edge"},
}

func newSummarizeCmd() *cobra.Command {
	var archivePath string
	var resultsDir string
	var suiteID string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize executed suites from the archive or a results directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archivePath != "" {
				return summarizeArchive(cmd, archivePath, suiteID)
			}
			if resultsDir != "" {
				return summarizeResults(cmd, resultsDir)
			}
			return errors.New("either --archive or --results is required")
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "SQLite archive to summarize")
	cmd.Flags().StringVar(&resultsDir, "results", "", "Results directory containing all_results.jsonl")
	cmd.Flags().StringVar(&suiteID, "suite", "", "Restrict the archive summary to one suite id")
	return cmd
}

func summarizeArchive(cmd *cobra.Command, path, suiteID string) error {
	archive, err := persistence.NewArchive(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	suites := []string{suiteID}
	if suiteID == "" {
		if suites, err = archive.ListSuites(); err != nil {
			return err
		}
	}
	if len(suites) == 0 {
		cmd.Println("Archive is empty.")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, suite := range suites {
		tallies, err := archive.SlotTallies(suite)
		if err != nil {
			return err
		}
		scores, err := archive.AverageScores(suite)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render("Suite "+suite))
		renderSlotTable(out, tallies, scores)
	}
	return nil
}

func renderSlotTable(out io.Writer, tallies map[string]persistence.SlotTally, scores map[string]float64) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Method", "Subject", "Completed", "Failed", "Avg Score"})
	for _, key := range runner.RunKeys {
		labels := slotLabels[key]
		tally := tallies[key]
		avg := "-"
		if score, ok := scores[key]; ok {
			avg = strconv.FormatFloat(score, 'f', 3, 64)
		}
		t.AppendRow(table.Row{
			key, labels[0], labels[1],
			okStyle.Render(strconv.Itoa(tally.Completed)),
			renderFailCount(tally.Failed),
			avg,
		})
	}
	t.Render()
}

func summarizeResults(cmd *cobra.Command, dir string) error {
	results, err := runner.NewResultLogger(dir, zap.NewNop())
	if err != nil {
		return err
	}
	records, err := results.LoadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cmd.Println("No records found.")
		return nil
	}
	stats := runner.Summarize(records)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Experiments: %d", stats.TotalExperiments)))

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Method", "Subject", "Completed", "Failed"})
	for _, key := range runner.RunKeys {
		labels := slotLabels[key]
		tally := stats.Runs[key]
		t.AppendRow(table.Row{
			key, labels[0], labels[1],
			okStyle.Render(strconv.Itoa(tally.Completed)),
			renderFailCount(tally.Failed),
		})
	}
	t.Render()

	p := table.NewWriter()
	p.SetOutputMirror(out)
	p.SetStyle(table.StyleLight)
	p.AppendHeader(table.Row{"Pairing", "Both Completed"})
	p.AppendRow(table.Row{"run_4 vs run_3", stats.PrimaryComparison.Run4VsRun3Completed})
	p.AppendRow(table.Row{"run_3 vs run_1", stats.PrimaryComparison.Run3VsRun1Completed})
	p.AppendRow(table.Row{"run_4 vs run_1", stats.PrimaryComparison.Run4VsRun1Completed})
	p.Render()
	return nil
}

func renderFailCount(n int) string {
	if n == 0 {
		return "0"
	}
	return failStyle.Render(strconv.Itoa(n))
}
