package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/edgeprompt/errs"
	"go.uber.org/zap"
)

// Loader resolves suite, template, sequence, and catalog documents from disk.
// Templates and sequences live under <suite dir>/templates as <name>.yaml or
// <name>.json; the model catalog sits next to the suite file.
type Loader struct {
	suitePath    string
	templatesDir string
	modelsPath   string
	logger       *zap.Logger
}

// NewLoader builds a loader rooted at the suite file's directory.
func NewLoader(suitePath string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDir := filepath.Dir(suitePath)
	return &Loader{
		suitePath:    suitePath,
		templatesDir: filepath.Join(baseDir, "templates"),
		modelsPath:   filepath.Join(baseDir, "model_configs.yaml"),
		logger:       logger.Named("config"),
	}
}

// SetTemplatesDir overrides the default templates directory.
func (l *Loader) SetTemplatesDir(dir string) { l.templatesDir = dir }

// SetModelsPath overrides the default model catalog location.
func (l *Loader) SetModelsPath(path string) { l.modelsPath = path }

// LoadSuite reads and validates the test suite document.
func (l *Loader) LoadSuite() (*Suite, error) {
	var suite Suite
	if err := l.readDoc(l.suitePath, &suite); err != nil {
		return nil, err
	}
	if suite.ID == "" {
		return nil, errs.Config("suite %s: missing test_suite_id", l.suitePath)
	}
	if suite.Description == "" {
		return nil, errs.Config("suite %s: missing description", suite.ID)
	}
	if len(suite.Templates) == 0 {
		return nil, errs.Config("suite %s: no templates listed", suite.ID)
	}
	if suite.Models.Cloud == "" {
		return nil, errs.Config("suite %s: no cloud model specified", suite.ID)
	}
	if len(suite.Models.Edge) == 0 {
		return nil, errs.Config("suite %s: no edge models specified", suite.ID)
	}
	if len(suite.TestCases) == 0 {
		return nil, errs.Config("suite %s: no test cases", suite.ID)
	}
	l.logger.Info("loaded test suite",
		zap.String("suite_id", suite.ID),
		zap.Int("test_cases", len(suite.TestCases)),
		zap.Int("edge_models", len(suite.Models.Edge)))
	return &suite, nil
}

// LoadTemplate reads a template by name from the templates directory.
func (l *Loader) LoadTemplate(name string) (*Template, error) {
	path, err := l.resolveDoc(name)
	if err != nil {
		return nil, err
	}
	var tmpl Template
	if err := l.readDoc(path, &tmpl); err != nil {
		return nil, err
	}
	if tmpl.ID == "" || tmpl.Pattern == "" {
		return nil, errs.Config("template %s: missing id or pattern", name)
	}
	return &tmpl, nil
}

// LoadSequence reads a validation sequence by name. A missing or structurally
// invalid sequence is a hard configuration error.
func (l *Loader) LoadSequence(name string) (*Sequence, error) {
	path, err := l.resolveDoc(name)
	if err != nil {
		return nil, err
	}
	var seq Sequence
	if err := l.readDoc(path, &seq); err != nil {
		return nil, err
	}
	if seq.ID == "" {
		return nil, errs.Config("sequence %s: missing id", name)
	}
	if len(seq.Stages) == 0 {
		return nil, errs.Config("sequence %s: empty stages list", name)
	}
	for i, stage := range seq.Stages {
		if stage.ID == "" {
			return nil, errs.Config("sequence %s: stage %d missing id", name, i)
		}
		if stage.TemplateID == "" {
			return nil, errs.Config("sequence %s: stage %s missing template_id", name, stage.ID)
		}
	}
	return &seq, nil
}

// LoadModelCatalog reads the cloud/edge model catalog.
func (l *Loader) LoadModelCatalog() (*ModelCatalog, error) {
	var catalog ModelCatalog
	if err := l.readDoc(l.modelsPath, &catalog); err != nil {
		return nil, err
	}
	if len(catalog.CloudModels) == 0 && len(catalog.EdgeModels) == 0 {
		return nil, errs.Config("model catalog %s: no models defined", l.modelsPath)
	}
	return &catalog, nil
}

func (l *Loader) resolveDoc(name string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(l.templatesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errs.Config("document %q not found under %s", name, l.templatesDir)
}

func (l *Loader) readDoc(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.KindConfig, err, "reading %s", path)
	}
	// YAML is a JSON superset, so one decoder covers both extensions.
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.KindConfig, err, "parsing %s", path)
	}
	return nil
}
