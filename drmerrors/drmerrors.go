// Package drmerrors defines the error categories shared across the host
// driver and the secure module.
package drmerrors

import (
	"errors"
	"fmt"
)

// Sentinel categories. Wrap one of these with fmt.Errorf("...: %w", ErrX) so
// callers can test with errors.Is without caring about the exact message.
var (
	// ErrAuthentication covers any AEAD tag mismatch: header, metadata, or
	// chunk envelope. Fatal to the current operation.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization covers a refused login. Share and playback checks
	// report their outcome in-band (share_rejected, a Preview verdict)
	// rather than through this error. Non-fatal to the session: the module
	// returns to STOPPED.
	ErrAuthorization = errors.New("authorization denied")

	// ErrProtocolViolation covers a command issued in a state that does not
	// accept it. Callers should silently ignore rather than propagate this
	// where the secure module's command dispatch is the caller.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrInputShape covers oversized/invalid usernames, pins, or other
	// host-supplied parameters rejected before they reach the channel.
	ErrInputShape = errors.New("invalid input shape")

	// ErrIO covers host-local file I/O failures.
	ErrIO = errors.New("i/o error")

	// ErrResourceExhausted covers share attempts once MAX_USERS is reached.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Wrap attaches msg to one of the sentinel categories above.
func Wrap(sentinel error, msg string) error {
	return fmt.Errorf("%s: %w", msg, sentinel)
}

// Wrapf is Wrap with formatting.
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
