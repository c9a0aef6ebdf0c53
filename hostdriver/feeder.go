package hostdriver

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mipod/audiodrm/channel"
)

// pollInterval mirrors the original's usleep(500) sync barrier: the host
// has no interrupt-driven wakeup for a buffer_offset flip, only a poll.
const pollInterval = 500 * time.Microsecond

// Feeder streams a song's encrypted chunk stream from disk into the
// channel's chunk ring during PLAY_SONG/DIGITAL_OUT, refilling the half
// the secure module is not currently draining. It runs as its own
// goroutine alongside the host's main command-REPL thread, per spec.md
// §5's "decryption feeder thread."
type Feeder struct {
	ch        *channel.Channel
	song      *SongFile
	encChunkN int // encrypted chunk size on the wire
	total     int // total number of chunks to stream
}

// NewFeeder constructs a Feeder bound to ch, reading chunks out of song.
func NewFeeder(ch *channel.Channel, song *SongFile, encChunkSize, totalChunks int) *Feeder {
	return &Feeder{ch: ch, song: song, encChunkN: encChunkSize, total: totalChunks}
}

// Run streams every chunk into the ring, alternating halves as
// buffer_offset flips, until ctx is cancelled or every chunk has been
// queued. It is meant to be launched via errgroup.Group.Go from the host's
// command loop so a STOP can cancel it without leaking the goroutine.
func (f *Feeder) Run(ctx context.Context) error {
	lastOffset := f.ch.BufferOffset()

	for i := 0; i < f.total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Wait for the secure module to flip buffer_offset before filling
		// the half it just vacated, i.e. the complement of its current
		// half.
		for f.ch.BufferOffset() == lastOffset && i >= channel.HalfSlots {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
		lastOffset = f.ch.BufferOffset()

		fillHalf := !f.ch.BufferOffset()
		slotInHalf := i % channel.HalfSlots

		raw := f.song.ChunkAt(i, f.encChunkN)
		slot := f.ch.Payload().AsEncChunks().Half(fillHalf, slotInHalf)
		slot.SetNonce(raw[:channel.NonceSize])
		slot.SetSealed(raw[channel.NonceSize:])
	}

	return nil
}

// RunFeeder launches f under an errgroup.Group so its error (if any)
// propagates alongside any other host-side concurrent work started in the
// same play session, and is cancelled together via ctx.
func RunFeeder(ctx context.Context, f *Feeder) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.Run(gctx)
	})
	return g, gctx
}
