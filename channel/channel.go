// Package channel models the shared command/data region the host driver and
// the secure module communicate through. In the original hardware this is a
// region of shared DDR; here it is an in-process struct with atomic
// signaling fields standing in for volatile reads, and a byte-slice payload
// with tagged-variant views standing in for the packed C union.
package channel

import (
	"sync/atomic"
)

// Wire-format constants, carried from original_source/constants.h.
const (
	UsernameSz    = 16
	MaxPinSz      = 8
	RegionNameSz  = 16
	MaxRegions    = 32
	MaxUsers      = 64
	NonceSize     = 12
	WaveHeaderSz  = 44
	// MetadataSz is the encoded length of metadata.SongMD (metadata.Size):
	// the 32-byte sha256sum identity field plus the owner/region/user
	// fields. The distillation's METADATA_SZ=390 undercounts by omitting
	// sha256sum; this follows metadata.Size instead.
	MetadataSz    = 32 + 4 + 1 + 1 + MaxRegions*4 + MaxUsers*4
	MacSize       = 16
	SongChunkSz   = 16000
	EncBufferSz   = 60
	EncChunkSz    = NonceSize + MacSize + SongChunkSz
	EncWaveHdrSz  = NonceSize + WaveHeaderSz + 4 + MacSize
	EncMetadataSz = NonceSize + MacSize + MetadataSz
	QuerySz       = 4 + 4 + UsernameSz + MaxRegions*RegionNameSz + MaxUsers*UsernameSz

	// FIFOCap is the hardware audio FIFO capacity in bytes; preserved from
	// constants.h as the threshold pipeline.Pipeline's COPY state spins on.
	FIFOCap = 4096 * 4

	// payloadSz sizes the shared payload region to the largest variant: the
	// double-buffered encrypted chunk ring.
	payloadSz = EncBufferSz * EncChunkSz
)

// Command identifies an operation the host asks the secure module to
// perform. Values follow spec.md's command set, not the original firmware's
// (which carries two now-unused FF/RW entries dropped in the distillation).
type Command uint32

const (
	CmdNone Command = iota
	CmdLogin
	CmdLogout
	CmdQueryPlayer
	CmdQueryEncSong
	CmdEncShare
	CmdDigitalOut
	CmdPlaySong
	CmdReadHeader
	CmdReadMetadata
	CmdWaitForChunk
	CmdReadChunk
	CmdPause
	CmdPlay
	CmdRestart
	CmdStop
)

// DRMState is the secure module's top-level state.
type DRMState uint32

const (
	Stopped DRMState = iota
	Working
	Playing
	Paused
	WaitingFileHeader
	WaitingMetadata
	WaitingChunk
	ReadingChunk
)

// PlayState is the sub-state of the streaming pipeline, valid only while
// DRMState is Playing or Paused.
type PlayState uint32

const (
	Decrypt PlayState = iota
	Copy
	Request
)

// Channel is the shared state between the host driver and the secure
// module. Scalar signaling fields are atomic, standing in for the
// original's `volatile` packed struct fields; Go has no volatile keyword,
// and atomics give the same "always observe the latest write" guarantee
// across the two goroutines.
//
// Ownership discipline, not a single big lock: the host writes cmd,
// username, pin, and the payload for outbound commands; the secure module
// writes drmState, loginStatus, shareRejected, bufferOffset, and the
// payload for responses. Neither side holds the other's lock. See
// Interrupt for the happens-before boundary between a write and its
// corresponding read.
type Channel struct {
	cmd         atomic.Uint32
	drmState    atomic.Uint32
	loginStatus atomic.Bool
	shareRejected atomic.Bool

	metadataSize   atomic.Uint32
	totalChunks    atomic.Uint32
	chunkSize      atomic.Uint32
	chunkNums      atomic.Uint32
	chunkRemainder atomic.Uint32
	bufferOffset   atomic.Bool

	// username/pin are host-written, secure-module-read. Protected by
	// ownership discipline: the host must not touch them again until after
	// the secure module has consumed the command that referenced them.
	username [UsernameSz]byte
	pin      [MaxPinSz]byte

	wavHeader [WaveHeaderSz]byte

	payload Payload

	interrupt chan struct{}
}

// DRMStateWriter is the capability to advance Channel's drm_state. The
// process that creates the Channel (cmd/mipod's App) receives it from New
// and hands it to securemodule's Dispatch, which is the only caller of
// SetState. The hostdriver package only ever sees a *Channel and can read
// drm_state but never set it.
type DRMStateWriter struct {
	ch *Channel
}

// New allocates a zeroed Channel and returns it alongside the
// DRMStateWriter capability. Callers that only need to read state (the
// host driver) should discard the writer or never receive it in the first
// place; callers that own state transitions (the secure module) keep both.
func New() (*Channel, *DRMStateWriter) {
	ch := &Channel{
		payload:   newPayload(payloadSz),
		interrupt: make(chan struct{}, 1),
	}
	return ch, &DRMStateWriter{ch: ch}
}

// SetState advances the secure module's drm_state. Only reachable through
// a DRMStateWriter.
func (w *DRMStateWriter) SetState(s DRMState) {
	w.ch.drmState.Store(uint32(s))
}

// SetLoginStatus records whether a session is currently logged in.
func (w *DRMStateWriter) SetLoginStatus(loggedIn bool) {
	w.ch.loginStatus.Store(loggedIn)
}

// SetShareRejected sets the in-band share-rejection flag the host polls
// after an ENC_SHARE command instead of receiving an error return.
func (w *DRMStateWriter) SetShareRejected(rejected bool) {
	w.ch.shareRejected.Store(rejected)
}

// SetBufferOffset flips the half-selector into the double-buffered chunk
// ring.
func (w *DRMStateWriter) SetBufferOffset(offset bool) {
	w.ch.bufferOffset.Store(offset)
}

// Payload exposes the writer's payload for the secure module to fill
// responses into.
func (w *DRMStateWriter) Payload() *Payload {
	return &w.ch.payload
}

// SetUsername copies up to UsernameSz bytes of name into the channel. The
// secure module uses this to zeroize the username field after LOGOUT or a
// failed LOGIN (pass "").
func (w *DRMStateWriter) SetUsername(name string) {
	setFixed(w.ch.username[:], name)
}

// SetPin copies up to MaxPinSz bytes of pin into the channel. The secure
// module uses this to zeroize the pin field after LOGOUT or a failed LOGIN
// (pass "").
func (w *DRMStateWriter) SetPin(pin string) {
	setFixed(w.ch.pin[:], pin)
}

// State returns the current drm_state. Both host and secure module poll
// this.
func (c *Channel) State() DRMState {
	return DRMState(c.drmState.Load())
}

// LoggedIn reports the current login status.
func (c *Channel) LoggedIn() bool {
	return c.loginStatus.Load()
}

// ShareRejected reports whether the most recent ENC_SHARE was rejected.
func (c *Channel) ShareRejected() bool {
	return c.shareRejected.Load()
}

// BufferOffset reports which half of the chunk ring the secure module last
// published into.
func (c *Channel) BufferOffset() bool {
	return c.bufferOffset.Load()
}

// Cmd returns the last command the host posted.
func (c *Channel) Cmd() Command {
	return Command(c.cmd.Load())
}

// PostCommand is the host's entry point: it writes cmd (and any
// username/pin this command carries) then signals the interrupt. username
// or pin may be empty if the command does not use them.
func (c *Channel) PostCommand(cmd Command, username, pin string) {
	setFixed(c.username[:], username)
	setFixed(c.pin[:], pin)
	c.cmd.Store(uint32(cmd))
	c.Interrupt()
}

// Username returns the username field as currently written by the host.
func (c *Channel) Username() string {
	return readFixed(c.username[:])
}

// Pin returns the pin field as currently written by the host.
func (c *Channel) Pin() string {
	return readFixed(c.pin[:])
}

// MetadataSize, TotalChunks, ChunkSize, ChunkNums, and ChunkRemainder are
// read accessors for the stream-sizing fields the secure module publishes
// after READ_HEADER.
func (c *Channel) MetadataSize() uint32   { return c.metadataSize.Load() }
func (c *Channel) TotalChunks() uint32    { return c.totalChunks.Load() }
func (c *Channel) ChunkSize() uint32      { return c.chunkSize.Load() }
func (c *Channel) ChunkNums() uint32      { return c.chunkNums.Load() }
func (c *Channel) ChunkRemainder() uint32 { return c.chunkRemainder.Load() }

// SetStreamSizing is called by the secure module after parsing the file
// header to publish the chunk geometry the host needs to drive the feeder
// loop.
func (w *DRMStateWriter) SetStreamSizing(metadataSize, totalChunks, chunkSize, chunkNums, chunkRemainder uint32) {
	w.ch.metadataSize.Store(metadataSize)
	w.ch.totalChunks.Store(totalChunks)
	w.ch.chunkSize.Store(chunkSize)
	w.ch.chunkNums.Store(chunkNums)
	w.ch.chunkRemainder.Store(chunkRemainder)
}

// WavHeader returns a copy of the 44-byte cleartext WAV header the secure
// module published after READ_HEADER.
func (c *Channel) WavHeader() [WaveHeaderSz]byte {
	return c.wavHeader
}

// SetWavHeader publishes the decrypted WAV header.
func (w *DRMStateWriter) SetWavHeader(hdr [WaveHeaderSz]byte) {
	w.ch.wavHeader = hdr
}

// Payload returns the read-only view of the shared payload region.
func (c *Channel) Payload() *Payload {
	return &c.payload
}

// Interrupt signals the secure module that a command is ready. A channel
// send happens-before the corresponding receive (Go memory model), which is
// the release fence spec.md's concurrency model calls for: everything the
// host wrote before Interrupt is visible to the secure module after it
// receives.
func (c *Channel) Interrupt() {
	select {
	case c.interrupt <- struct{}{}:
	default:
		// Already one pending signal; the secure module hasn't drained it
		// yet. Coalescing is safe because cmd is read fresh, not queued.
	}
}

// Wait blocks until the host signals an interrupt.
func (c *Channel) Wait() {
	<-c.interrupt
}

func setFixed(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

func readFixed(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}
