// Package pipeline implements the streaming decryption state machine that
// drains the channel's double-buffered chunk ring, authenticates each
// chunk, and delivers PCM to an audio sink — or, for digital export, to an
// accumulating buffer the host driver writes out as a file.
package pipeline

import "bytes"

// AudioSink is the destination for decrypted PCM during normal playback.
// It stands in for the original's DMA/audio-codec interface so the
// pipeline is testable without real hardware.
type AudioSink interface {
	// Write delivers up to len(p) bytes of PCM. It may accept fewer bytes
	// than len(p) if the sink is momentarily at capacity.
	Write(p []byte) (int, error)
	// Busy reports whether the sink's current DMA transfer has not yet
	// completed.
	Busy() bool
	// FIFOFill reports the current fill level, in bytes, of the sink's
	// output FIFO.
	FIFOFill() int
}

// DigitalOutSink accumulates decrypted PCM in memory instead of writing it
// to an audio device, so the host driver can persist the whole stream to a
// `.dout` file once the pipeline finishes. It never reports Busy or a
// nonzero FIFOFill: there is no DMA to wait on, so the COPY state's
// spin-wait is always satisfied immediately. Per spec.md §9's design
// notes, this path does not enforce the 30-second preview gate — that is
// a property of enforcePreview at construction, not of this sink.
type DigitalOutSink struct {
	buf bytes.Buffer
}

// NewDigitalOutSink constructs an empty digital-out sink.
func NewDigitalOutSink() *DigitalOutSink {
	return &DigitalOutSink{}
}

func (s *DigitalOutSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *DigitalOutSink) Busy() bool                  { return false }
func (s *DigitalOutSink) FIFOFill() int               { return 0 }

// Bytes returns the accumulated decrypted PCM.
func (s *DigitalOutSink) Bytes() []byte { return s.buf.Bytes() }
