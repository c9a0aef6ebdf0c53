package aead

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mipod/audiodrm/drmerrors"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func randomNonce(t *testing.T) []byte {
	t.Helper()
	nonce := make([]byte, NonceSize)
	_, err := rand.Read(nonce)
	require.NoError(t, err)
	return nonce
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := randomKey(t)
	nonce := randomNonce(t)
	plaintext := []byte("sixteen thousand bytes of song, or a stand-in for them")

	envelopes := []Envelope{HeaderEnvelope, MetadataEnvelope, ChunkEnvelope.WithAAD([]byte("song-hash-stand-in"))}

	for _, e := range envelopes {
		ct, err := Seal(e, key, nonce, plaintext)
		require.NoError(t, err)

		pt, err := Open(e, key, nonce, ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)
	}
}

func TestOpenRejectsBitFlips(t *testing.T) {
	key := randomKey(t)
	nonce := randomNonce(t)
	plaintext := []byte("payload")

	ct, err := Seal(HeaderEnvelope, key, nonce, plaintext)
	require.NoError(t, err)

	t.Run("flipped ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), ct...)
		tampered[0] ^= 0x01
		_, err := Open(HeaderEnvelope, key, nonce, tampered)
		require.Error(t, err)
		assert.True(t, errors.Is(err, drmerrors.ErrAuthentication))
	})

	t.Run("flipped tag", func(t *testing.T) {
		tampered := append([]byte(nil), ct...)
		tampered[len(tampered)-1] ^= 0x01
		_, err := Open(HeaderEnvelope, key, nonce, tampered)
		require.Error(t, err)
		assert.True(t, errors.Is(err, drmerrors.ErrAuthentication))
	})

	t.Run("flipped nonce", func(t *testing.T) {
		tamperedNonce := append([]byte(nil), nonce...)
		tamperedNonce[0] ^= 0x01
		_, err := Open(HeaderEnvelope, key, tamperedNonce, ct)
		require.Error(t, err)
		assert.True(t, errors.Is(err, drmerrors.ErrAuthentication))
	})

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Open(MetadataEnvelope, key, nonce, ct)
		require.Error(t, err)
		assert.True(t, errors.Is(err, drmerrors.ErrAuthentication))
	})
}

func TestDeriveNonceDeterministic(t *testing.T) {
	plaintext := []byte("new metadata contents")
	n1 := DeriveNonce(plaintext)
	n2 := DeriveNonce(plaintext)
	assert.Equal(t, n1, n2)
	assert.Len(t, n1, NonceSize)

	n3 := DeriveNonce([]byte("different metadata contents"))
	assert.NotEqual(t, n1, n3)
}

func TestSealRejectsBadKey(t *testing.T) {
	_, err := Seal(HeaderEnvelope, []byte("too-short"), randomNonce(t), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, drmerrors.ErrInputShape))
}
