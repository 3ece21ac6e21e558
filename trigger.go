package serial

import (
	"errors"
	"fmt"
)

// eventCodeBase offsets event codes onto ASCII digits, so code 0 is '0'.
const eventCodeBase = '0'

// EncodeEventCode maps a detection event code to the byte sent on the wire.
func EncodeEventCode(code int) (byte, error) {
	v := code + eventCodeBase
	if v < 0 || v > 0xff {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEventCode, code)
	}
	return byte(v), nil
}

// Trigger sends the byte for code when the session is connected. When it is
// not, the trigger is dropped without a notice and Trigger returns nil.
func (s *Session) Trigger(code int) error {
	b, err := EncodeEventCode(code)
	if err != nil {
		return err
	}

	err = s.send([]byte{b}, false)
	if errors.Is(err, ErrNotConnected) {
		s.log.Debug().Int("code", code).Msg("trigger dropped, not connected")
		return nil
	}
	return err
}
