package protocol

import (
	"errors"
	"fmt"
)

const (
	// DefaultMTU is the ATT MTU assumed before any exchange.
	DefaultMTU = 23

	attOverhead = 3
	indexSize   = 1
	maxChunks   = 0x100
)

// ChunkPayload returns how many frame bytes fit into one chunk for the
// given ATT MTU.
func ChunkPayload(mtu int) int {
	if mtu <= attOverhead+indexSize {
		mtu = DefaultMTU
	}
	return mtu - attOverhead - indexSize
}

// Chunk splits an encoded frame into indexed chunks carrying at most
// payload frame bytes each.
func Chunk(frame []byte, payload int) ([][]byte, error) {
	if payload < 1 {
		return nil, fmt.Errorf("chunk payload must be positive, got %d", payload)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	count := (len(frame) + payload - 1) / payload
	if count > maxChunks {
		return nil, fmt.Errorf("frame of %d bytes needs %d chunks, limit is %d", len(frame), count, maxChunks)
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		end := min((i+1)*payload, len(frame))
		chunk := make([]byte, 0, indexSize+end-i*payload)
		chunk = append(chunk, byte(i))
		chunk = append(chunk, frame[i*payload:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Status is the outcome of feeding a chunk to a Reassembler.
type Status int

const (
	// StatusIncomplete means more chunks are needed.
	StatusIncomplete Status = iota
	// StatusComplete means a frame was produced.
	StatusComplete
	// StatusInvalid means the chunk or the buffered frame was discarded.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "incomplete"
	case StatusComplete:
		return "complete"
	case StatusInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ReassemblerStats counts what a Reassembler has seen.
type ReassemblerStats struct {
	Frames uint64
	// Invalid counts every discarded frame or chunk, stale partials included.
	Invalid uint64
	// Stale counts partial frames dropped because a new frame started.
	Stale uint64
}

// Reassembler rebuilds frames from notification chunks. It is not safe for
// concurrent use; one goroutine must own it.
type Reassembler struct {
	buf    []byte
	next   int
	active bool
	stats  ReassemblerStats
}

// Feed consumes one notification. On StatusInvalid the returned error
// describes what was discarded.
//
// A chunk with index zero always starts a new frame. If another frame was
// still being assembled it is dropped and counted as both invalid and stale.
func (r *Reassembler) Feed(chunk []byte) (Frame, Status, error) {
	if len(chunk) <= indexSize {
		r.Reset()
		return r.invalid(fmt.Errorf("%w: notification of %d bytes carries no data", ErrInvalid, len(chunk)))
	}

	idx, data := int(chunk[0]), chunk[indexSize:]
	switch {
	case idx == 0:
		if r.active {
			r.stats.Stale++
			r.stats.Invalid++
		}
		r.Reset()
		r.active = true
	case !r.active:
		return r.invalid(invalidf("chunk %d without a frame start", idx))
	case idx != r.next:
		r.Reset()
		return r.invalid(invalidf("chunk %d out of order, expected %d", idx, r.next))
	}

	r.buf = append(r.buf, data...)
	r.next = idx + 1
	if buffered := len(r.buf); buffered > MaxFrameSize {
		r.Reset()
		return r.invalid(invalidf("buffered %d bytes without a complete frame", buffered))
	}

	f, n, err := Decode(r.buf)
	switch {
	case errors.Is(err, ErrIncomplete):
		return Frame{}, StatusIncomplete, nil
	case err != nil:
		r.Reset()
		return r.invalid(err)
	case n != len(r.buf):
		trailing := len(r.buf) - n
		r.Reset()
		return r.invalid(invalidf("%d bytes after end of frame", trailing))
	}

	r.Reset()
	r.stats.Frames++
	return f, StatusComplete, nil
}

// Reset drops any partially assembled frame.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.next = 0
	r.active = false
}

// Pending reports whether a frame is partially assembled.
func (r *Reassembler) Pending() bool {
	return r.active
}

// Stats returns the counters accumulated so far.
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

func (r *Reassembler) invalid(err error) (Frame, Status, error) {
	r.stats.Invalid++
	return Frame{}, StatusInvalid, err
}
