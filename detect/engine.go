package detect

import (
	"context"
	"fmt"
)

// Engine is the external inference runtime
type Engine interface {
	LoadModel(ctx context.Context, cfg ModelConfig) error
}

// Reload validates cfg and hands it to the engine
func Reload(ctx context.Context, e Engine, cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.LoadModel(ctx, cfg); err != nil {
		return fmt.Errorf("load model %s: %w", cfg.ModelName(), err)
	}
	return nil
}
