// Package aead wraps ChaCha20-Poly1305 for the three envelope kinds the
// secure module and host driver exchange: the file header, the metadata
// block, and song chunks.
package aead

import (
	"crypto/sha256"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mipod/audiodrm/drmerrors"
	"github.com/mipod/audiodrm/internal/logger"
	"github.com/mipod/audiodrm/internal/metrics"
)

// KeySize is the ChaCha20-Poly1305 IETF key size in bytes.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the ChaCha20-Poly1305 IETF nonce size in bytes.
const NonceSize = chacha20poly1305.NonceSize

// TagSize is the Poly1305 authentication tag size in bytes.
const TagSize = 16

// Envelope binds an AEAD operation to a fixed additional-authenticated-data
// value and a name used for metrics/log labels.
type Envelope struct {
	name string
	aad  []byte
}

// HeaderEnvelope authenticates the 48-byte file-header block: the 44-byte
// WAV header followed by the 4-byte metadata size.
var HeaderEnvelope = Envelope{name: "header", aad: []byte("wave_header\x00")}

// MetadataEnvelope authenticates the DRM metadata block (metadata.Size
// bytes).
var MetadataEnvelope = Envelope{name: "metadata", aad: []byte("meta_data\x00")}

// ChunkEnvelope authenticates a song chunk. Its AAD is the per-song
// sha256sum, supplied at call time via WithAAD since it varies per file.
var ChunkEnvelope = Envelope{name: "chunk"}

// WithAAD returns a copy of e bound to aad. Used for ChunkEnvelope, whose
// AAD is the 32-byte sha256sum of the song rather than a fixed constant.
func (e Envelope) WithAAD(aad []byte) Envelope {
	e.aad = aad
	return e
}

// Seal encrypts and authenticates plaintext under key, nonce, and e's AAD,
// returning a newly allocated ciphertext||tag.
func Seal(e Envelope, key []byte, nonce []byte, plaintext []byte) ([]byte, error) {
	start := time.Now()
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "invalid aead key")
	}
	if len(nonce) != NonceSize {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "invalid nonce size")
	}

	out := aead.Seal(nil, nonce, plaintext, e.aad)

	metrics.AEADOperations.WithLabelValues("seal", e.name).Inc()
	metrics.AEADOperationDuration.WithLabelValues("seal", e.name).Observe(time.Since(start).Seconds())

	return out, nil
}

// Open authenticates and decrypts ciphertext under key, nonce, and e's AAD.
// On tag mismatch it returns drmerrors.ErrAuthentication.
func Open(e Envelope, key []byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	start := time.Now()
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "invalid aead key")
	}
	if len(nonce) != NonceSize {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "invalid nonce size")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, e.aad)

	metrics.AEADOperationDuration.WithLabelValues("open", e.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AEADFailures.WithLabelValues(e.name).Inc()
		logger.Warn("aead authentication failed", logger.String("envelope", e.name))
		return nil, drmerrors.Wrap(drmerrors.ErrAuthentication, "tag verification failed")
	}

	metrics.AEADOperations.WithLabelValues("open", e.name).Inc()
	return plaintext, nil
}

// DeriveNonce returns the first NonceSize bytes of SHA-256(plaintext), the
// re-share nonce derivation used when the secure module rewrites metadata.
func DeriveNonce(plaintext []byte) []byte {
	sum := sha256.Sum256(plaintext)
	nonce := make([]byte, NonceSize)
	copy(nonce, sum[:NonceSize])
	return nonce
}
