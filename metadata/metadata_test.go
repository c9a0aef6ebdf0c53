package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mipod/audiodrm/drmerrors"
)

func sampleMD() *SongMD {
	s := &SongMD{OwnerID: 7, NumRegions: 2, NumUsers: 1}
	s.ProvisionedRegions[0] = 1
	s.ProvisionedRegions[1] = 2
	s.ProvisionedUsers[0] = 99
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := sampleMD()
	encoded := original.Encode()
	require.Len(t, encoded, Size)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, drmerrors.ErrInputShape))
}

func TestDecodeRejectsOversizedCounts(t *testing.T) {
	buf := sampleMD().Encode()
	buf[ChecksumSize+4] = MaxRegions + 1 // num_regions follows sha256sum and owner_id
	_, err := Decode(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, drmerrors.ErrInputShape))
}

func TestChecksumIsStoredIdentityNotRehashed(t *testing.T) {
	md := sampleMD()
	md.SHA256Sum = [ChecksumSize]byte{1, 2, 3}
	c1 := Checksum(md)
	c2 := Checksum(md.Clone())
	assert.Equal(t, c1, c2)

	// Mutating owner/region/user fields must not perturb the checksum: it
	// is a stored value, not a hash over the rest of the struct.
	mutated := md.Clone()
	mutated.OwnerID = 8
	mutated.ProvisionedRegions[0] = 99
	require.NoError(t, mutated.AddUser(42))
	assert.Equal(t, c1, Checksum(mutated))

	md2 := sampleMD()
	md2.SHA256Sum = [ChecksumSize]byte{9, 9, 9}
	assert.NotEqual(t, c1, Checksum(md2))
}

func TestChecksumSurvivesEncodeDecodeRoundTrip(t *testing.T) {
	md := sampleMD()
	md.SHA256Sum = [ChecksumSize]byte{0xaa, 0xbb, 0xcc}

	decoded, err := Decode(md.Encode())
	require.NoError(t, err)
	assert.Equal(t, Checksum(md), Checksum(decoded))
}

func TestHasRegionAndHasUser(t *testing.T) {
	md := sampleMD()

	assert.True(t, md.HasRegion(1))
	assert.True(t, md.HasRegion(2))
	assert.False(t, md.HasRegion(3))

	assert.True(t, md.HasUser(md.OwnerID), "owner always has access")
	assert.True(t, md.HasUser(99))
	assert.False(t, md.HasUser(100))
}

func TestAddUser(t *testing.T) {
	md := sampleMD()
	require.NoError(t, md.AddUser(100))
	assert.EqualValues(t, 2, md.NumUsers)
	assert.True(t, md.HasUser(100))
}

func TestAddUserResourceExhausted(t *testing.T) {
	md := &SongMD{OwnerID: 1, NumUsers: MaxUsers}
	err := md.AddUser(42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, drmerrors.ErrResourceExhausted))
}

func TestCloneIsIndependent(t *testing.T) {
	md := sampleMD()
	clone := md.Clone()
	clone.ProvisionedUsers[0] = 1234

	assert.NotEqual(t, md.ProvisionedUsers[0], clone.ProvisionedUsers[0])
}
