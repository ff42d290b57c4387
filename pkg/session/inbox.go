package session

import (
	"context"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/protocol"
)

// notification is one BLE notification tagged with the connection it
// arrived on.
type notification struct {
	gen  uint64
	data []byte
}

// inbox hands notifications from the BLE callback to the frame reader.
// The callback never blocks: when the reader falls behind the oldest
// notifications are overwritten.
type inbox struct {
	buf         mpmc.RichOverlappedRingBuffer[notification]
	wake        chan struct{}
	overwritten atomic.Uint64
	received    atomic.Uint64
}

func newInbox(size uint32) *inbox {
	return &inbox{
		buf:  mpmc.NewOverlappedRingBuffer[notification](size),
		wake: make(chan struct{}, 1),
	}
}

func (in *inbox) push(n notification) error {
	overwrites, err := in.buf.EnqueueM(n)
	if err != nil {
		return err
	}
	in.received.Add(1)
	in.overwritten.Add(uint64(overwrites))

	select {
	case in.wake <- struct{}{}:
	default:
	}
	return nil
}

// reader owns the reassembler. Frames it completes are applied to the
// state model and offered to the dispatcher.
type reader struct {
	in          *inbox
	logger      *logrus.Logger
	reassembler protocol.Reassembler
	gen         uint64
	stats       atomic.Pointer[protocol.ReassemblerStats]
	onFrame     func(protocol.Frame)
}

func (r *reader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.in.wake:
			r.drain()
		}
	}
}

func (r *reader) drain() {
	for !r.in.buf.IsEmpty() {
		n, err := r.in.buf.Dequeue()
		if err != nil {
			r.logger.WithField("error", err).Debug("Notification dequeue failed")
			return
		}
		r.feed(n)
	}
}

func (r *reader) feed(n notification) {
	if n.gen != r.gen {
		// A new connection never continues a frame from the previous one.
		r.reassembler.Reset()
		r.gen = n.gen
	}

	frame, status, err := r.reassembler.Feed(n.data)
	stats := r.reassembler.Stats()
	r.stats.Store(&stats)

	switch status {
	case protocol.StatusComplete:
		r.onFrame(frame)
	case protocol.StatusInvalid:
		r.logger.WithFields(logrus.Fields{
			"data":  protocol.FormatHex(n.data),
			"error": err,
		}).Debug("Discarded invalid notification")
	}
}

func (r *reader) reassemblyStats() protocol.ReassemblerStats {
	if s := r.stats.Load(); s != nil {
		return *s
	}
	return protocol.ReassemblerStats{}
}
