package main

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mipod/audiodrm/aead"
	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/config"
	"github.com/mipod/audiodrm/metadata"
	"github.com/mipod/audiodrm/provision"
)

func hashPin(pin, salt string) string {
	sum := sha256.Sum256(append([]byte(pin), []byte(salt)...))
	return hex.EncodeToString(sum[:])
}

// writeFixtureSecrets writes a provisioned-secrets YAML with one region
// (10, "US") and two users: alice (uid 1, owner) and bob (uid 7, no
// standing access), and returns its path plus the device key.
func writeFixtureSecrets(t *testing.T) (string, []byte) {
	t.Helper()
	deviceKey := make([]byte, aead.KeySize)
	for i := range deviceKey {
		deviceKey[i] = byte(i + 1)
	}

	body := `
device_key: "` + hex.EncodeToString(deviceKey) + `"
device_regions:
  10: "US"
device_users:
  1:
    username: "alice"
    hashed_pin: "` + hashPin("1234", "ab") + `"
    salt: "6162"
  7:
    username: "bob"
    hashed_pin: "` + hashPin("5678", "ab") + `"
    salt: "6162"
provisioned_regions: [10]
provisioned_users: [1, 7]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "provision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path, deviceKey
}

// writeFixtureSongFile assembles an on-disk song: an encrypted header
// (wav_size = nChunks chunks, no remainder), encrypted metadata for song, and
// nChunks encrypted chunks of deterministic PCM. It returns the path.
func writeFixtureSongFile(t *testing.T, dir, name string, deviceKey []byte, song *metadata.SongMD, nChunks int) string {
	t.Helper()

	wavSize := uint32(nChunks * channel.SongChunkSz)
	var hdr [channel.WaveHeaderSz]byte
	// packing1[4], file_size[4], packing2[32], wav_size[4]
	hdr[40] = byte(wavSize)
	hdr[41] = byte(wavSize >> 8)
	hdr[42] = byte(wavSize >> 16)
	hdr[43] = byte(wavSize >> 24)

	hdrPlain := append(append([]byte{}, hdr[:]...), 0, 0, 0, 0) // metadata_size trailer, unused by tests
	hdrNonce := aead.DeriveNonce(hdrPlain)
	hdrSealed, err := aead.Seal(aead.HeaderEnvelope, deviceKey, hdrNonce, hdrPlain)
	require.NoError(t, err)
	encHeader := append(append([]byte{}, hdrNonce...), hdrSealed...)
	require.Len(t, encHeader, channel.EncWaveHdrSz)

	metaPlain := song.Encode()
	metaNonce := aead.DeriveNonce(metaPlain)
	metaSealed, err := aead.Seal(aead.MetadataEnvelope, deviceKey, metaNonce, metaPlain)
	require.NoError(t, err)
	encMetadata := append(append([]byte{}, metaNonce...), metaSealed...)
	require.Len(t, encMetadata, channel.EncMetadataSz)

	checksum := metadata.Checksum(song)
	var chunkStream []byte
	for i := 0; i < nChunks; i++ {
		pcm := make([]byte, channel.SongChunkSz)
		for j := range pcm {
			pcm[j] = byte((i*channel.SongChunkSz + j) % 256)
		}
		nonce := make([]byte, channel.NonceSize)
		nonce[0] = byte(i)
		sealed, err := aead.Seal(aead.ChunkEnvelope.WithAAD(checksum[:]), deviceKey, nonce, pcm)
		require.NoError(t, err)
		chunkStream = append(chunkStream, nonce...)
		chunkStream = append(chunkStream, sealed...)
	}

	data := append(append(append([]byte{}, encHeader...), encMetadata...), chunkStream...)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func testConfig(t *testing.T, mediaDir, secretsFile string) *config.Config {
	t.Helper()
	return &config.Config{
		Media:     config.MediaConfig{Dir: mediaDir, DigitalOutDir: filepath.Join(mediaDir, "digital_out")},
		Provision: config.ProvisionConfig{SecretsFile: secretsFile},
	}
}

func TestAppLoginLogoutRoundTrip(t *testing.T) {
	secretsPath, _ := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	a := NewApp(testConfig(t, t.TempDir(), secretsPath), secrets)

	require.NoError(t, a.login("alice", "1234"))
	assert.True(t, a.ch.LoggedIn())
	assert.EqualValues(t, 1, a.sm.Session().UID)

	require.NoError(t, a.logout())
	assert.False(t, a.ch.LoggedIn())
}

func TestAppLoginDeniedOnWrongPin(t *testing.T) {
	secretsPath, _ := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	a := NewApp(testConfig(t, t.TempDir(), secretsPath), secrets)
	assert.Error(t, a.login("alice", "0000"))
	assert.False(t, a.ch.LoggedIn())
}

func TestAppQueryReportsOwnerAndRegion(t *testing.T) {
	secretsPath, deviceKey := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	a := NewApp(testConfig(t, mediaDir, secretsPath), secrets)
	require.NoError(t, a.login("alice", "1234"))

	song := &metadata.SongMD{OwnerID: 1, NumRegions: 1}
	song.ProvisionedRegions[0] = 10
	writeFixtureSongFile(t, mediaDir, "song.drm", deviceKey, song, 1)

	res, err := a.query("song.drm")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Owner)
	assert.Equal(t, []string{"US"}, res.Regions)
}

func TestAppShareGrantsAccessAndRewritesFile(t *testing.T) {
	secretsPath, deviceKey := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	a := NewApp(testConfig(t, mediaDir, secretsPath), secrets)
	require.NoError(t, a.login("alice", "1234"))

	song := &metadata.SongMD{OwnerID: 1, NumRegions: 1}
	song.ProvisionedRegions[0] = 10
	writeFixtureSongFile(t, mediaDir, "song.drm", deviceKey, song, 1)

	require.NoError(t, a.share("song.drm", "bob"))

	// Re-query as bob, now a shared user, should see full access (owner
	// query path requires re-login as bob; here we just confirm the file
	// was rewritten with a grown user table by re-reading it as alice).
	res, err := a.query("song.drm")
	require.NoError(t, err)
	assert.Contains(t, res.Users, "bob")
}

func TestAppShareRejectedWhenNotOwner(t *testing.T) {
	secretsPath, deviceKey := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	a := NewApp(testConfig(t, mediaDir, secretsPath), secrets)
	require.NoError(t, a.login("bob", "5678"))

	song := &metadata.SongMD{OwnerID: 1, NumRegions: 1} // owned by alice
	song.ProvisionedRegions[0] = 10
	writeFixtureSongFile(t, mediaDir, "song.drm", deviceKey, song, 1)

	err = a.share("song.drm", "bob")
	assert.Error(t, err)
}

// TestAppPlayAfterShareStillDecrypts guards against the checksum-reuse bug
// a maintainer flagged: ENC_SHARE must not perturb the song's stored
// identity value, or chunks sealed under the pre-share checksum stop
// authenticating once the metadata block is reloaded post-share.
func TestAppPlayAfterShareStillDecrypts(t *testing.T) {
	secretsPath, deviceKey := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	a := NewApp(testConfig(t, mediaDir, secretsPath), secrets)
	require.NoError(t, a.login("alice", "1234"))

	song := &metadata.SongMD{OwnerID: 1, NumRegions: 1, SHA256Sum: [metadata.ChecksumSize]byte{1, 2, 3, 4}}
	song.ProvisionedRegions[0] = 10
	writeFixtureSongFile(t, mediaDir, "song.drm", deviceKey, song, 2)

	require.NoError(t, a.share("song.drm", "bob"))
	require.NoError(t, a.play("song.drm", true))

	out, err := os.ReadFile(filepath.Join(mediaDir, "digital_out", "song.drm.dout"))
	require.NoError(t, err)
	assert.Len(t, out, 2*channel.SongChunkSz)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(channel.SongChunkSz%256), out[channel.SongChunkSz])
}

func TestAppPlayDigitalOutWritesDecryptedPCM(t *testing.T) {
	secretsPath, deviceKey := writeFixtureSecrets(t)
	secrets, err := provision.Load(secretsPath)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	a := NewApp(testConfig(t, mediaDir, secretsPath), secrets)
	require.NoError(t, a.login("alice", "1234"))

	song := &metadata.SongMD{OwnerID: 1, NumRegions: 1}
	song.ProvisionedRegions[0] = 10
	writeFixtureSongFile(t, mediaDir, "song.drm", deviceKey, song, 2)

	require.NoError(t, a.play("song.drm", true))

	out, err := os.ReadFile(filepath.Join(mediaDir, "digital_out", "song.drm.dout"))
	require.NoError(t, err)
	assert.Len(t, out, 2*channel.SongChunkSz)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(channel.SongChunkSz%256), out[channel.SongChunkSz])
}
