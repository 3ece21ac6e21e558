// Package detect carries the object-detection side of the relay: the model
// configuration handed to the external inference engine and the sources that
// turn detections into event codes.
package detect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidModelConfig is returned for configurations the engine rejects
var ErrInvalidModelConfig = errors.New("invalid model configuration")

// MaxRateTier is the highest sampling tier. Tier n runs detection on every
// (n+1)th frame.
const MaxRateTier = 9

// Backend selects where inference runs
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend parses "cpu" or "gpu"
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	default:
		return 0, fmt.Errorf("%w: backend %q", ErrInvalidModelConfig, s)
	}
}

func (b Backend) MarshalText() ([]byte, error) {
	if b != BackendCPU && b != BackendGPU {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModelConfig, b)
	}
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

type model struct {
	name       string
	targetSize int
}

var models = []model{
	{"yolox-tiny", 416},
	{"yolox-nano", 416},
}

// Models returns the names of the known models in index order
func Models() []string {
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.name
	}
	return names
}

// ModelIndex returns the index of the named model
func ModelIndex(name string) (int, error) {
	for i, m := range models {
		if m.name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown model %q (known: %s)", ErrInvalidModelConfig, name, strings.Join(Models(), ", "))
}

// ModelConfig is an immutable description of the detection pipeline. A new
// value is built for every change and handed to Reload.
type ModelConfig struct {
	Model    int     `json:"model"`
	Backend  Backend `json:"backend"`
	RateTier int     `json:"rate_tier"`
	Enabled  bool    `json:"enabled"`
	Delegate bool    `json:"delegate"`
}

// ModelOption modifies a ModelConfig under construction
type ModelOption func(*ModelConfig) error

// DefaultModelConfig returns yolox-tiny on the CPU, sampling every frame.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:    0,
		Backend:  BackendCPU,
		RateTier: 0,
		Enabled:  true,
	}
}

// NewModelConfig applies opts to the defaults and validates the result
func NewModelConfig(opts ...ModelOption) (ModelConfig, error) {
	cfg := DefaultModelConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return ModelConfig{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, err
	}
	return cfg, nil
}

// WithModel selects a model by name
func WithModel(name string) ModelOption {
	return func(c *ModelConfig) error {
		i, err := ModelIndex(name)
		if err != nil {
			return err
		}
		c.Model = i
		return nil
	}
}

// WithBackend selects the inference backend
func WithBackend(b Backend) ModelOption {
	return func(c *ModelConfig) error {
		c.Backend = b
		return nil
	}
}

// WithRateTier sets the sampling tier, 0..MaxRateTier
func WithRateTier(tier int) ModelOption {
	return func(c *ModelConfig) error {
		c.RateTier = tier
		return nil
	}
}

// WithEnabled toggles event generation
func WithEnabled(on bool) ModelOption {
	return func(c *ModelConfig) error {
		c.Enabled = on
		return nil
	}
}

// WithDelegate toggles the hardware delegate
func WithDelegate(on bool) ModelOption {
	return func(c *ModelConfig) error {
		c.Delegate = on
		return nil
	}
}

// Validate checks the ranges the engine accepts
func (c ModelConfig) Validate() error {
	if c.Model < 0 || c.Model >= len(models) {
		return fmt.Errorf("%w: model index %d", ErrInvalidModelConfig, c.Model)
	}
	if c.Backend != BackendCPU && c.Backend != BackendGPU {
		return fmt.Errorf("%w: %s", ErrInvalidModelConfig, c.Backend)
	}
	if c.RateTier < 0 || c.RateTier > MaxRateTier {
		return fmt.Errorf("%w: rate tier %d", ErrInvalidModelConfig, c.RateTier)
	}
	return nil
}

// ModelName returns the model's name, or "" for an invalid index
func (c ModelConfig) ModelName() string {
	if c.Model < 0 || c.Model >= len(models) {
		return ""
	}
	return models[c.Model].name
}

// TargetSize returns the input resolution of the model
func (c ModelConfig) TargetSize() int {
	if c.Model < 0 || c.Model >= len(models) {
		return 0
	}
	return models[c.Model].targetSize
}

// SampleEvery returns how many frames pass per detection run
func (c ModelConfig) SampleEvery() int {
	return c.RateTier + 1
}

func (c ModelConfig) String() string {
	return fmt.Sprintf("%s/%s every %d frame(s) enabled=%t delegate=%t",
		c.ModelName(), c.Backend, c.SampleEvery(), c.Enabled, c.Delegate)
}
