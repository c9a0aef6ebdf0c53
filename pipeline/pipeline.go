package pipeline

import (
	"github.com/mipod/audiodrm/aead"
	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/drmerrors"
	"github.com/mipod/audiodrm/internal/metrics"
)

// ChunkSize is the fixed PCM sub-chunk size used both as the encrypted
// song-chunk payload length and as the DMA copy granularity. The original
// firmware distinguishes SONG_CHUNK_SZ (encryption granularity) from
// CHUNK_SZ (DMA granularity); both are 16000 bytes here, so COPY moves one
// full decrypted chunk per DMA burst rather than subdividing it further.
const ChunkSize = channel.SongChunkSz

// subState is the DECRYPT/COPY/REQUEST sub-state machine driving one
// playback or digital-out session.
type subState int

const (
	stateDecrypt subState = iota
	stateCopy
	stateRequest
)

// ControlSignal is a fast-control command observed between pipeline steps.
type ControlSignal int

const (
	ControlNone ControlSignal = iota
	ControlPause
	ControlPlay
	ControlRestart
	ControlStop
)

// Pipeline drains the channel's chunk ring, authenticates each chunk
// against songAAD, and writes decrypted PCM to sink. enforcePreview, if true,
// enforces spec.md's 30-second preview cap; DIGITAL_OUT callers pass
// false, since the original does not gate digital export on preview
// length.
type Pipeline struct {
	ring    *Ring
	writer  *channel.DRMStateWriter
	ch      *channel.Channel
	sink    AudioSink
	key     []byte
	songAAD []byte

	enforcePreview bool
	previewLeft    int

	totalChunks    uint32
	chunkSize      uint32
	chunkRemainder uint32

	chunkIndex uint32
	slotIndex  int

	// pending holds the plaintext decrypted by decryptNext until
	// copyCurrent delivers it. A plain field, not a channel: Pipeline is
	// cooperative single-threaded, mirroring the secure module it models.
	pending []byte

	// Control is polled by the caller's command loop between steps and set
	// to request a fast-control transition. nil disables control checks
	// (used by tests that want an uninterrupted run).
	Control func() ControlSignal
}

// New constructs a Pipeline bound to ch/writer, decrypting under key with
// AAD songAAD (the song's 32-byte checksum). enforcePreview selects
// whether playback is capped at policy.PreviewBytes.
func New(ch *channel.Channel, writer *channel.DRMStateWriter, sink AudioSink, key, songAAD []byte, enforcePreview bool, previewBytes int) *Pipeline {
	return &Pipeline{
		ring:           NewRing(ch, writer),
		writer:         writer,
		ch:             ch,
		sink:           sink,
		key:            key,
		songAAD:        songAAD,
		enforcePreview: enforcePreview,
		previewLeft:    previewBytes,
		totalChunks:    ch.TotalChunks(),
		chunkSize:      ch.ChunkSize(),
		chunkRemainder: ch.ChunkRemainder(),
	}
}

// Run drives the pipeline to completion: EOF, a fatal authentication
// failure, or an explicit STOP/RESTART control signal. It returns nil on
// EOF or STOP (both are normal terminations per spec.md), and a non-nil
// error on authentication failure or a sink write error, which the caller should treat as
// moving drm_state to STOPPED (Run's caller, securemodule, already holds
// that responsibility via writer).
func (p *Pipeline) Run() error {
	state := stateDecrypt

	for {
		if sig := p.poll(); sig != ControlNone {
			switch sig {
			case ControlStop, ControlRestart:
				return nil
			case ControlPause:
				p.waitForResume()
			}
		}

		switch state {
		case stateDecrypt:
			done, err := p.decryptNext()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			state = stateCopy

		case stateCopy:
			eof, err := p.copyCurrent()
			if err != nil {
				return err
			}
			state = stateDecrypt
			if eof {
				return nil
			}
			if p.slotIndex == channel.HalfSlots {
				state = stateRequest
			}

		case stateRequest:
			p.ring.DrainHalf()
			p.slotIndex = 0
			state = stateDecrypt
		}
	}
}

// RunHalf drains and delivers PCM for the half of the ring the secure
// module currently owns, then flips buffer_offset and returns — the
// READ_CHUNK -> READING_CHUNK -> (DECRYPT/COPY cycle) -> (half drained)
// sub-cycle from spec.md §4.2, scoped to one READ_CHUNK dispatch instead
// of looping until EOF the way Run does. done reports EOF or (for a
// preview-capped session) the preview boundary; the caller should treat
// either as a normal end of session. A non-nil error is a fatal
// authentication failure or a sink write error.
func (p *Pipeline) RunHalf() (done bool, err error) {
	for {
		eof, err := p.decryptNext()
		if err != nil {
			return false, err
		}
		if eof {
			return true, nil
		}

		eof, err = p.copyCurrent()
		if err != nil {
			return false, err
		}
		if eof {
			return true, nil
		}

		if p.slotIndex == channel.HalfSlots {
			p.ring.DrainHalf()
			p.slotIndex = 0
			return false, nil
		}
	}
}

func (p *Pipeline) poll() ControlSignal {
	if p.Control == nil {
		return ControlNone
	}
	return p.Control()
}

func (p *Pipeline) waitForResume() {
	for {
		sig := p.poll()
		if sig == ControlPlay || sig == ControlStop {
			return
		}
	}
}

// decryptNext authenticates and decrypts the next chunk slot. It reports
// done=true once every chunk has been consumed (EOF), and a non-nil error
// on AEAD failure, which is fatal to the stream per spec.md §7.
func (p *Pipeline) decryptNext() (done bool, err error) {
	if p.chunkIndex >= p.totalChunks {
		return true, nil
	}

	slot := p.ring.Slot(p.slotIndex)
	sealed := slot.SealedWhole()
	if p.chunkIndex == p.totalChunks-1 && p.chunkRemainder > 0 {
		// The final chunk carries only chunkRemainder bytes of ciphertext,
		// so its tag sits right after them rather than at the slot's end.
		sealed = sealed[:p.chunkRemainder+aead.TagSize]
	}
	envelope := aead.ChunkEnvelope.WithAAD(p.songAAD)
	plaintext, err := aead.Open(envelope, p.key, slot.Nonce(), sealed)
	if err != nil {
		metrics.PlaybackSessionsClosed.WithLabelValues("tampered").Inc()
		return false, drmerrors.Wrap(drmerrors.ErrAuthentication, "chunk authentication failed")
	}

	p.pending = plaintext
	p.chunkIndex++
	return false, nil
}

func (p *Pipeline) copyCurrent() (eof bool, err error) {
	data := p.pending
	p.pending = nil

	if p.enforcePreview {
		if p.previewLeft <= 0 {
			return true, nil
		}
		if len(data) > p.previewLeft {
			data = data[:p.previewLeft]
		}
	}

	for len(data) > 0 {
		for p.sink.Busy() && p.sink.FIFOFill() >= channel.FIFOCap-32 {
			// spin-wait for DMA/FIFO headroom, mirroring the original's
			// busy-poll inside COPY.
		}
		n, werr := p.sink.Write(data)
		if werr != nil {
			return false, werr
		}
		data = data[n:]
		metrics.ChunkBytesTransferred.Add(float64(n))
		if p.enforcePreview {
			p.previewLeft -= n
			if p.previewLeft <= 0 {
				return true, nil
			}
		}
	}

	p.slotIndex++
	metrics.ChunksTransferred.WithLabelValues(half(p.ring.CurrentHalf())).Inc()

	if p.chunkIndex >= p.totalChunks {
		metrics.PlaybackSessionsClosed.WithLabelValues("eof").Inc()
		return true, nil
	}
	return false, nil
}

func half(h bool) string {
	if h {
		return "high"
	}
	return "low"
}
