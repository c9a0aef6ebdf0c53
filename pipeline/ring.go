package pipeline

import "github.com/mipod/audiodrm/channel"

// Ring is the double-buffered chunk ring: two halves of channel.HalfSlots
// slots each, with buffer_offset (owned by the secure module) selecting
// which half the secure module is currently draining. The host always
// refills the half the secure module is not currently reading.
//
// Modeled per spec.md §9's design note: two half-buffers with an owner
// field; producer (host) fills half 1-owner, consumer (secure module)
// drains half owner, and owner flips only when the consumer completes a
// half.
type Ring struct {
	ch     *channel.Channel
	writer *channel.DRMStateWriter
}

// NewRing binds a Ring to a channel and the secure module's state-writer
// capability (only the secure module flips buffer_offset).
func NewRing(ch *channel.Channel, writer *channel.DRMStateWriter) *Ring {
	return &Ring{ch: ch, writer: writer}
}

// CurrentHalf reports which half the secure module is currently draining.
func (r *Ring) CurrentHalf() bool {
	return r.ch.BufferOffset()
}

// Slot returns the encrypted-chunk view for slot i (0..HalfSlots-1) within
// the half the secure module currently owns.
func (r *Ring) Slot(i int) channel.EncChunk {
	return r.ch.Payload().AsEncChunks().Half(r.CurrentHalf(), i)
}

// DrainHalf declares the current half fully consumed: it flips
// buffer_offset so the host can begin refilling the half just drained
// while the secure module moves on to the other half. This is the only
// place buffer_offset changes, preserving the 0,1,0,1,... alternation
// spec.md's invariants require.
func (r *Ring) DrainHalf() {
	r.writer.SetBufferOffset(!r.CurrentHalf())
}

// HostFillHalf reports which half of the ring the host should currently be
// refilling: the complement of the secure module's current half.
func HostFillHalf(ch *channel.Channel) bool {
	return !ch.BufferOffset()
}
