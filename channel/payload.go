package channel

import "encoding/binary"

// Payload is the tagged-union data region shared between the host and the
// secure module. Its backing array is reused across every command that
// exchanges bulk data; which accessor is valid at a given moment follows
// from the Command currently posted, exactly as the original firmware's
// packed union did. Go has no union type, so each accessor below is a thin,
// offset-based view over the same []byte.
type Payload struct {
	buf []byte
}

func newPayload(size int) Payload {
	return Payload{buf: make([]byte, size)}
}

// AsRaw returns the full backing slice, for callers that index into it
// directly rather than through a named view.
func (p *Payload) AsRaw() []byte {
	return p.buf
}

// Query is the shared wire layout for both query responses: QUERY_PLAYER
// (the device's own provisioned regions/users; Owner always empty) and
// QUERY_ENC_SONG (the loaded song's owner plus its licensed regions and
// shared users).
type Query struct {
	buf []byte
}

// AsQuery interprets the payload as a query response.
func (p *Payload) AsQuery() Query {
	return Query{buf: p.buf[:QuerySz]}
}

func (q Query) NumRegions() uint32 { return binary.LittleEndian.Uint32(q.buf[0:4]) }
func (q Query) NumUsers() uint32   { return binary.LittleEndian.Uint32(q.buf[4:8]) }

func (q Query) SetCounts(numRegions, numUsers uint32) {
	binary.LittleEndian.PutUint32(q.buf[0:4], numRegions)
	binary.LittleEndian.PutUint32(q.buf[4:8], numUsers)
}

func (q Query) Owner() string {
	return readFixed(q.buf[8 : 8+UsernameSz])
}

func (q Query) SetOwner(name string) {
	setFixed(q.buf[8:8+UsernameSz], name)
}

func (q Query) Region(i int) string {
	off := 8 + UsernameSz + i*RegionNameSz
	return readFixed(q.buf[off : off+RegionNameSz])
}

func (q Query) SetRegion(i int, name string) {
	off := 8 + UsernameSz + i*RegionNameSz
	setFixed(q.buf[off:off+RegionNameSz], name)
}

func (q Query) User(i int) string {
	off := 8 + UsernameSz + MaxRegions*RegionNameSz + i*UsernameSz
	return readFixed(q.buf[off : off+UsernameSz])
}

func (q Query) SetUser(i int, name string) {
	off := 8 + UsernameSz + MaxRegions*RegionNameSz + i*UsernameSz
	setFixed(q.buf[off:off+UsernameSz], name)
}

// EncWaveHeader is the encrypted file-header envelope: nonce, the
// ciphertext of the 44-byte WAV header plus the 4-byte following-metadata
// size, and tag.
type EncWaveHeader struct {
	buf []byte
}

// AsEncWaveHeader interprets the payload as the encrypted header envelope.
func (p *Payload) AsEncWaveHeader() EncWaveHeader {
	return EncWaveHeader{buf: p.buf[:EncWaveHdrSz]}
}

func (h EncWaveHeader) Nonce() []byte       { return h.buf[0:NonceSize] }
func (h EncWaveHeader) Ciphertext() []byte  { return h.buf[NonceSize : NonceSize+WaveHeaderSz+4] }
func (h EncWaveHeader) Tag() []byte         { return h.buf[NonceSize+WaveHeaderSz+4:] }
func (h EncWaveHeader) SealedWhole() []byte { return h.buf[NonceSize:] } // ciphertext||tag

func (h EncWaveHeader) SetNonce(nonce []byte)       { copy(h.buf[0:NonceSize], nonce) }
func (h EncWaveHeader) SetSealed(ciphertext []byte) { copy(h.buf[NonceSize:], ciphertext) }

// EncMetadata is the encrypted metadata envelope: nonce, MetadataSz-byte
// ciphertext, tag.
type EncMetadata struct {
	buf []byte
}

// AsEncMetadata interprets the payload as the encrypted metadata envelope.
func (p *Payload) AsEncMetadata() EncMetadata {
	return EncMetadata{buf: p.buf[:EncMetadataSz]}
}

func (m EncMetadata) Nonce() []byte       { return m.buf[0:NonceSize] }
func (m EncMetadata) SealedWhole() []byte { return m.buf[NonceSize:] }

func (m EncMetadata) SetNonce(nonce []byte)       { copy(m.buf[0:NonceSize], nonce) }
func (m EncMetadata) SetSealed(ciphertext []byte) { copy(m.buf[NonceSize:], ciphertext) }

// EncChunk is one encrypted song chunk: nonce, up-to-SongChunkSz
// ciphertext, tag.
type EncChunk struct {
	buf []byte
}

// AsEncChunk interprets the payload as a single encrypted chunk, for
// commands that transfer one chunk at a time.
func (p *Payload) AsEncChunk() EncChunk {
	return EncChunk{buf: p.buf[:EncChunkSz]}
}

func (c EncChunk) Nonce() []byte       { return c.buf[0:NonceSize] }
func (c EncChunk) SealedWhole() []byte { return c.buf[NonceSize:] }

func (c EncChunk) SetNonce(nonce []byte)       { copy(c.buf[0:NonceSize], nonce) }
func (c EncChunk) SetSealed(ciphertext []byte) { copy(c.buf[NonceSize:], ciphertext) }

// EncChunks is the double-buffered chunk ring: EncBufferSz slots of
// EncChunkSz bytes each, split into a low half and a high half of
// EncBufferSz/2 slots. The host fills one half while the secure module
// drains the other; buffer_offset selects the half being drained.
type EncChunks struct {
	buf []byte
}

// AsEncChunks interprets the payload as the full chunk ring.
func (p *Payload) AsEncChunks() EncChunks {
	return EncChunks{buf: p.buf}
}

// HalfSlots is the number of chunk slots in one half of the ring.
const HalfSlots = EncBufferSz / 2

// Slot returns the EncChunk view for slot index i (0..EncBufferSz-1).
func (e EncChunks) Slot(i int) EncChunk {
	off := i * EncChunkSz
	return EncChunk{buf: e.buf[off : off+EncChunkSz]}
}

// Half returns the EncChunk view for slot index i within half h (0 or 1).
func (e EncChunks) Half(h bool, i int) EncChunk {
	base := 0
	if h {
		base = HalfSlots
	}
	return e.Slot(base + i)
}
