package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/lexcodex/edgeprompt/errs"
)

// Settings holds the runner's operational knobs, as opposed to the experiment
// documents the Loader reads.
type Settings struct {
	SuitePath       string `koanf:"suite"`
	OutputDir       string `koanf:"output"`
	LogLevel        string `koanf:"log_level"`
	MockModels      bool   `koanf:"mock_models"`
	LMStudioURL     string `koanf:"lm_studio_url"`
	OpenAIAPIKey    string `koanf:"openai_api_key"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	ArchivePath     string `koanf:"archive_path"`
	EventLogPath    string `koanf:"event_log_path"`
	RepairAttempts  int    `koanf:"repair_attempts"`
}

const envPrefix = "EDGEPROMPT_"

// LoadSettings resolves runner settings with precedence
// flags > environment > settings file > defaults. The settings file path is
// optional; a missing explicit path is an error, a missing default is not.
func LoadSettings(settingsPath string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"output":          "results",
		"log_level":       "info",
		"mock_models":     false,
		"lm_studio_url":   "http://localhost:1234",
		"archive_path":    "",
		"event_log_path":  "",
		"repair_attempts": 1,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "loading defaults")
	}

	if settingsPath != "" {
		if err := k.Load(file.Provider(settingsPath), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, errs.Wrap(errs.KindConfig, err, "loading settings file %s", settingsPath)
			}
		}
	}

	// EDGEPROMPT_MOCK_MODELS -> mock_models
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "loading environment")
	}

	if flags != nil {
		// Kebab-case flags map onto snake_case settings keys; only flags the
		// user actually set override lower layers.
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "config" {
				return "suite", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errs.Wrap(errs.KindConfig, err, "loading flags")
		}
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "decoding settings")
	}
	if settings.RepairAttempts < 0 {
		settings.RepairAttempts = 0
	}
	return &settings, nil
}
