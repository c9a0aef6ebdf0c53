// Package metadata implements the DRM song metadata block: the song's
// identity checksum, its owner, the licensed regions, and the shared-user
// table.
package metadata

import (
	"encoding/binary"

	"github.com/mipod/audiodrm/drmerrors"
)

const (
	// MaxRegions is the maximum number of regions a song may be licensed in.
	MaxRegions = 32
	// MaxUsers is the maximum number of users a song may be shared with.
	MaxUsers = 64
	// ChecksumSize is the length of the stored song-identity value.
	ChecksumSize = 32

	// Size is the fixed encoded length of SongMD. The distillation's
	// METADATA_SZ=390 figure covers only owner_id/num_regions/num_users/
	// provisioned_regions/provisioned_users; it undercounts by omitting
	// sha256sum, which original_source's miPodCpp.h purdue_md struct
	// stores as the struct's first field. This layout follows that
	// struct rather than the undercounted constant.
	Size = ChecksumSize + 4 + 1 + 1 + MaxRegions*4 + MaxUsers*4
)

// SongMD is the cleartext DRM metadata for one song, after the AEAD
// metadata envelope has been opened.
type SongMD struct {
	// SHA256Sum is the song's identity value, chosen once at
	// song-production time (outside this module's scope) and never
	// recomputed from the rest of this struct. It is the AAD every
	// chunk in the song is bound to: a re-share must carry it through
	// bit-identically, or every chunk fails authentication on next
	// playback. See BuildSharedMetadata.
	SHA256Sum          [ChecksumSize]byte
	OwnerID            uint32
	NumRegions         uint8
	NumUsers           uint8
	ProvisionedRegions [MaxRegions]uint32
	ProvisionedUsers   [MaxUsers]uint32
}

// Encode serializes s into its fixed wire representation.
func (s *SongMD) Encode() []byte {
	buf := make([]byte, Size)
	off := 0
	copy(buf[off:off+ChecksumSize], s.SHA256Sum[:])
	off += ChecksumSize

	binary.LittleEndian.PutUint32(buf[off:off+4], s.OwnerID)
	off += 4
	buf[off] = s.NumRegions
	off++
	buf[off] = s.NumUsers
	off++

	for i := 0; i < MaxRegions; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], s.ProvisionedRegions[i])
		off += 4
	}
	for i := 0; i < MaxUsers; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], s.ProvisionedUsers[i])
		off += 4
	}
	return buf
}

// Decode parses a fixed-size wire representation into a SongMD, validating
// NumRegions and NumUsers against their maxima.
func Decode(buf []byte) (*SongMD, error) {
	if len(buf) != Size {
		return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "metadata block must be %d bytes, got %d", Size, len(buf))
	}

	s := &SongMD{}
	off := 0
	copy(s.SHA256Sum[:], buf[off:off+ChecksumSize])
	off += ChecksumSize

	s.OwnerID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	s.NumRegions = buf[off]
	off++
	s.NumUsers = buf[off]
	off++

	if s.NumRegions > MaxRegions {
		return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "num_regions %d exceeds max %d", s.NumRegions, MaxRegions)
	}
	if s.NumUsers > MaxUsers {
		return nil, drmerrors.Wrapf(drmerrors.ErrInputShape, "num_users %d exceeds max %d", s.NumUsers, MaxUsers)
	}

	for i := 0; i < MaxRegions; i++ {
		s.ProvisionedRegions[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	for i := 0; i < MaxUsers; i++ {
		s.ProvisionedUsers[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}

	return s, nil
}

// Checksum returns the song's stored identity value, SHA256Sum. It is a
// read of a production-time-chosen field, not a hash computed over s's
// current contents — the mutable owner/region/user fields must be free to
// change (e.g. via a share) without perturbing the value every chunk's AAD
// is bound to. See original_source's encryptMetaData, which memcpy's the
// prior sha256sum into a re-shared record rather than rehashing it.
func Checksum(s *SongMD) [32]byte {
	return s.SHA256Sum
}

// HasRegion reports whether regionID is among the song's licensed regions.
func (s *SongMD) HasRegion(regionID uint32) bool {
	for i := uint8(0); i < s.NumRegions; i++ {
		if s.ProvisionedRegions[i] == regionID {
			return true
		}
	}
	return false
}

// HasUser reports whether uid has been granted access to the song, either
// as owner or via a prior share.
func (s *SongMD) HasUser(uid uint32) bool {
	if s.OwnerID == uid {
		return true
	}
	for i := uint8(0); i < s.NumUsers; i++ {
		if s.ProvisionedUsers[i] == uid {
			return true
		}
	}
	return false
}

// AddUser appends uid to the provisioned-users table, returning
// drmerrors.ErrResourceExhausted if the table is already full. Callers
// must check HasUser first; AddUser does not de-duplicate.
func (s *SongMD) AddUser(uid uint32) error {
	if int(s.NumUsers) >= MaxUsers {
		return drmerrors.Wrap(drmerrors.ErrResourceExhausted, "provisioned user table is full")
	}
	s.ProvisionedUsers[s.NumUsers] = uid
	s.NumUsers++
	return nil
}

// Clone returns a deep copy of s.
func (s *SongMD) Clone() *SongMD {
	clone := *s
	return &clone
}
