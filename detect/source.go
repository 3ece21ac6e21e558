package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidCode is returned for payloads that are not an integer event code
var ErrInvalidCode = errors.New("invalid event code")

// Source delivers detection event codes until ctx is done or the source is
// exhausted. handle is called sequentially.
type Source interface {
	Run(ctx context.Context, handle func(code int)) error
}

// ParseCode parses one event code from a line or message body
func ParseCode(b []byte) (int, error) {
	s := strings.TrimSpace(string(b))
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	return code, nil
}

// LineSource reads one event code per line. Blank lines are skipped and
// malformed lines are logged and skipped.
type LineSource struct {
	R      io.Reader
	Logger zerolog.Logger
}

var _ Source = (*LineSource)(nil)

// Run returns nil at end of input or when ctx is done.
func (s *LineSource) Run(ctx context.Context, handle func(code int)) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.R)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			code, err := ParseCode([]byte(line))
			if err != nil {
				s.Logger.Warn().Err(err).Msg("skipping line")
				continue
			}
			handle(code)
		}
	}
}
