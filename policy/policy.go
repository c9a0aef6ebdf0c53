// Package policy implements the DRM playback authorization decision as a
// pure function, independent of the channel protocol or the pipeline that
// enforces its verdict.
package policy

import (
	"github.com/mipod/audiodrm/metadata"
	"github.com/mipod/audiodrm/provision"
)

// PreviewBytes is the maximum number of PCM bytes played when policy denies
// full access: 30 seconds * 48kHz * 16-bit mono.
const PreviewBytes = 30 * 48000 * 2

// Verdict is the outcome of evaluating playback authorization.
type Verdict int

const (
	// Denied means there is no song to evaluate. Decide never returns it
	// (a song with no matching region or user yields Preview); securemodule
	// reports it when no metadata is loaded. The enforced behavior at the
	// pipeline is identical to Preview.
	Denied Verdict = iota
	// Preview permits only the first PreviewBytes of output.
	Preview
	// Full permits unrestricted playback.
	Full
)

// Session is the minimal view of a logged-in playback session policy needs.
type Session struct {
	LoggedIn bool
	UID      uint32
}

// Decide evaluates playback authorization for session against song under
// device, following spec.md's region-then-identity algorithm: a song is
// playable in Full only if at least one of its licensed regions is also
// provisioned on the device, AND the session is either the song's owner or
// in its shared-user table. Any other combination yields Preview.
func Decide(session Session, song *metadata.SongMD, device *provision.DeviceSecrets) Verdict {
	regionMatch := false
	for i := uint8(0); i < song.NumRegions; i++ {
		if device.ProvisionedRegions[song.ProvisionedRegions[i]] {
			regionMatch = true
			break
		}
	}
	if !regionMatch {
		return Preview
	}

	if session.LoggedIn && song.HasUser(session.UID) {
		return Full
	}

	return Preview
}
