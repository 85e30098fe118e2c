package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/config"
	"github.com/lexcodex/edgeprompt/errs"
	"github.com/lexcodex/edgeprompt/metrics"
	"github.com/lexcodex/edgeprompt/telemetry"
)

// ModelType distinguishes the two roles in the comparison matrix.
type ModelType string

const (
	ModelTypeCloud ModelType = "cloud"
	ModelTypeEdge  ModelType = "edge"
)

// Handle is an initialized, cached model ready for execution.
type Handle struct {
	Type     ModelType
	ModelID  string
	Mock     bool
	provider Provider
}

// ManagerOptions carry the credentials and endpoints providers need.
type ManagerOptions struct {
	LMStudioURL     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// Manager initializes providers from the model catalog, caches handles, and
// runs the metered execution boundary. One collector is shared across all
// calls; execution is strictly sequential.
type Manager struct {
	catalog   *config.ModelCatalog
	opts      ManagerOptions
	collector *metrics.Collector
	emitter   *telemetry.Emitter
	logger    *zap.Logger
	handles   map[string]*Handle
}

// NewManager builds a manager over the catalog.
func NewManager(catalog *config.ModelCatalog, opts ManagerOptions, emitter *telemetry.Emitter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		catalog:   catalog,
		opts:      opts,
		collector: metrics.NewCollector(),
		emitter:   emitter,
		logger:    logger.Named("models"),
		handles:   map[string]*Handle{},
	}
}

// Initialize resolves a model id into a cached handle. A cached entry is
// replaced when the mock flag changes, so real and mock handles never mix.
func (m *Manager) Initialize(modelType ModelType, modelID string, mock bool) (*Handle, error) {
	key := string(modelType) + "/" + modelID
	if h, ok := m.handles[key]; ok && h.Mock == mock {
		return h, nil
	}

	provider, err := m.buildProvider(modelID, mock)
	if err != nil {
		return nil, err
	}
	h := &Handle{Type: modelType, ModelID: modelID, Mock: mock, provider: provider}
	m.handles[key] = h
	m.logger.Info("initialized model",
		zap.String("type", string(modelType)),
		zap.String("model_id", modelID),
		zap.Bool("mock", mock))
	return h, nil
}

func (m *Manager) buildProvider(modelID string, mock bool) (Provider, error) {
	spec, ok := m.catalog.Find(modelID)
	if !ok {
		return nil, errs.Config("model %q not found in catalog", modelID)
	}
	if mock {
		return m.instrument(NewMockModel(modelID)), nil
	}

	apiID := spec.APIIdentifier
	if apiID == "" {
		apiID = spec.ModelID
	}
	switch spec.Provider {
	case "openai":
		base := spec.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return m.instrument(NewOpenAIClient(base, m.opts.OpenAIAPIKey, apiID, m.logger)), nil
	case "lm_studio":
		base := spec.BaseURL
		if base == "" {
			base = m.opts.LMStudioURL + "/v1"
		}
		return m.instrument(NewOpenAIClient(base, "lm-studio", apiID, m.logger)), nil
	case "anthropic":
		return m.instrument(NewAnthropicClient(m.opts.AnthropicAPIKey, apiID, m.logger)), nil
	default:
		return nil, errs.Config("model %q: unknown provider %q", modelID, spec.Provider)
	}
}

func (m *Manager) instrument(p Provider) Provider {
	if m.emitter == nil {
		return p
	}
	return NewInstrumented(p, m.emitter)
}

// Execute runs one metered call. Transport failures are captured in the
// result's Err field and never escape this boundary; latency is recorded
// either way.
func (m *Manager) Execute(ctx context.Context, handle *Handle, prompt string, params Params) ExecutionResult {
	if handle == nil {
		return ExecutionResult{Err: "model handle not initialized"}
	}
	if prompt == "" {
		return ExecutionResult{Err: "empty prompt"}
	}

	m.collector.StartTimer()
	resp, err := handle.provider.Generate(ctx, prompt, params)
	m.collector.StopTimer()

	if err != nil {
		m.logger.Warn("model call failed",
			zap.String("model_id", handle.ModelID),
			zap.Error(err))
		return ExecutionResult{Err: err.Error(), Metrics: m.collector.Results()}
	}
	m.collector.RecordTokens(resp.InputTokens, resp.OutputTokens)
	return ExecutionResult{
		Text:         resp.Text,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Metrics:      m.collector.Results(),
	}
}

// RepairFunc adapts a handle into the jsonx repair callback. Repair calls ask
// for strict JSON at low temperature.
func (m *Manager) RepairFunc(handle *Handle) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		result := m.Execute(ctx, handle, prompt, LowTempJSONParams())
		if result.Failed() {
			return "", errs.Transport("repair call failed: %s", result.Err)
		}
		return result.Text, nil
	}
}
