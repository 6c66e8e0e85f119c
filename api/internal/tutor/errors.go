package tutor

import (
	"errors"
	"fmt"
)

// ErrRemoteProtocol marks a malformed or incomplete remote response: bad
// JSON, missing required fields, or a render without an image part. It is
// never retried by the validation loop.
var ErrRemoteProtocol = errors.New("malformed remote response")

// ProtocolErrorf wraps a call-site message with ErrRemoteProtocol.
func ProtocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrRemoteProtocol)
}
