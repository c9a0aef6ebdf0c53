// Package hostdriver implements the untrusted host side of the protocol:
// file I/O, the feeder goroutine that streams encrypted chunks into the
// channel during playback, and read-only accessors over channel state.
package hostdriver

import (
	"regexp"

	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/drmerrors"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)
	pinPattern      = regexp.MustCompile(`^[0-9]*$`)
)

// ValidateUsername enforces spec.md §6's input-shape constraint: at most
// channel.UsernameSz bytes, restricted to [A-Za-z0-9_]. This runs before
// any bytes reach the channel, so it is an input-shape check, not a policy
// check — rejected input never reaches the secure module.
func ValidateUsername(name string) error {
	if len(name) > channel.UsernameSz {
		return drmerrors.Wrapf(drmerrors.ErrInputShape, "username exceeds %d bytes", channel.UsernameSz)
	}
	if !usernamePattern.MatchString(name) {
		return drmerrors.Wrap(drmerrors.ErrInputShape, "username contains characters outside [A-Za-z0-9_]")
	}
	return nil
}

// ValidatePin enforces spec.md §6's pin constraint: at most
// channel.MaxPinSz bytes, digits only.
func ValidatePin(pin string) error {
	if len(pin) > channel.MaxPinSz {
		return drmerrors.Wrapf(drmerrors.ErrInputShape, "pin exceeds %d bytes", channel.MaxPinSz)
	}
	if !pinPattern.MatchString(pin) {
		return drmerrors.Wrap(drmerrors.ErrInputShape, "pin contains non-digit characters")
	}
	return nil
}
