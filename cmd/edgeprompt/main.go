package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/edgeprompt/config"
	"github.com/lexcodex/edgeprompt/llm"
	"github.com/lexcodex/edgeprompt/persistence"
	"github.com/lexcodex/edgeprompt/runner"
	"github.com/lexcodex/edgeprompt/telemetry"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "edgeprompt",
		Short: "Structured prompting experiments against cloud and edge models",
	}
	root.AddCommand(newRunCmd(), newSummarizeCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var settingsPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a test suite across the four-run comparison matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(settingsPath, cmd.Flags())
			if err != nil {
				return err
			}
			if settings.SuitePath == "" {
				return errors.New("a suite document is required (--config, EDGEPROMPT_SUITE, or the settings file)")
			}
			return runSuite(cmd, settings)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&settingsPath, "settings", "", "Optional settings YAML file")
	flags.String("config", "", "Path to the test suite document")
	flags.String("output", "results", "Directory for result records")
	flags.Bool("mock-models", false, "Use deterministic mock models instead of real backends")
	flags.String("lm-studio-url", "http://localhost:1234", "LM Studio base URL for edge models")
	flags.String("openai-api-key", "", "OpenAI API key (or EDGEPROMPT_OPENAI_API_KEY)")
	flags.String("anthropic-api-key", "", "Anthropic API key (or EDGEPROMPT_ANTHROPIC_API_KEY)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("archive-path", "", "Optional SQLite archive for executed records")
	flags.String("event-log-path", "", "Optional JSONL file for telemetry events")
	flags.Int("repair-attempts", 1, "Model-assisted repair attempts for malformed JSON")
	return cmd
}

func runSuite(cmd *cobra.Command, settings *config.Settings) error {
	logger, err := buildLogger(settings.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	loader := config.NewLoader(settings.SuitePath, logger)
	suite, err := loader.LoadSuite()
	if err != nil {
		return err
	}
	catalog, err := loader.LoadModelCatalog()
	if err != nil {
		return err
	}

	sinks := []telemetry.Sink{telemetry.ZapSink{Logger: logger.Named("events")}}
	if settings.EventLogPath != "" {
		jsonl, err := telemetry.NewJSONLSink(settings.EventLogPath)
		if err != nil {
			return err
		}
		defer jsonl.Close()
		sinks = append(sinks, jsonl)
	}
	emitter := telemetry.NewEmitter(telemetry.Multiplex{Sinks: sinks})

	models := llm.NewManager(catalog, llm.ManagerOptions{
		LMStudioURL:     settings.LMStudioURL,
		OpenAIAPIKey:    settings.OpenAIAPIKey,
		AnthropicAPIKey: settings.AnthropicAPIKey,
	}, emitter, logger)

	results, err := runner.NewResultLogger(settings.OutputDir, logger)
	if err != nil {
		return err
	}

	orchestrator := runner.NewOrchestrator(suite, loader, models, results, emitter, logger, runner.Options{
		Mock:           settings.MockModels,
		RepairAttempts: settings.RepairAttempts,
	})
	summary, err := orchestrator.RunSuite(cmd.Context())
	if err != nil {
		return err
	}

	if settings.ArchivePath != "" {
		if err := archiveResults(settings.ArchivePath, results, logger); err != nil {
			logger.Warn("failed to archive results", zap.Error(err))
		}
	}

	cmd.Printf("Suite %s: %d cases attempted, %d logged, %d with errors\n",
		summary.SuiteID, summary.Attempted, summary.Logged, summary.Errors)
	cmd.Printf("Results written to %s\n", settings.OutputDir)
	if summary.Errors > 0 {
		return fmt.Errorf("%d of %d cases finished with errors", summary.Errors, summary.Logged)
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

// archiveResults upserts every record from the output directory's aggregate
// JSONL, so re-running a suite refreshes existing archive rows.
func archiveResults(path string, results *runner.ResultLogger, logger *zap.Logger) error {
	records, err := results.LoadAll()
	if err != nil {
		return err
	}
	archive, err := persistence.NewArchive(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	for _, record := range records {
		if err := archive.SaveRecord(record); err != nil {
			return err
		}
	}
	logger.Info("archived case records",
		zap.String("path", path), zap.Int("records", len(records)))
	return nil
}
