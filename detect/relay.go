package detect

import (
	"context"

	"github.com/rs/zerolog"
)

// Triggerer sends one event code downstream. *serial.Session satisfies it.
type Triggerer interface {
	Trigger(code int) error
}

// Relay forwards every code from src to t until src stops. Trigger failures
// are logged and do not stop the relay.
func Relay(ctx context.Context, src Source, t Triggerer, logger zerolog.Logger) error {
	return src.Run(ctx, func(code int) {
		if err := t.Trigger(code); err != nil {
			logger.Warn().Err(err).Int("code", code).Msg("trigger failed")
			return
		}
		logger.Debug().Int("code", code).Msg("relayed")
	})
}
