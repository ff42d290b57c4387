// Package dispatch sends commands to the controller and correlates their
// responses.
//
// The controller link is half-duplex: commands are queued in arrival order
// and only one is in flight at a time. A response is matched to the
// in-flight command by opcode.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/groutine"
	"github.com/srg/brc1h/internal/protocol"
)

var (
	// ErrNotReady is returned when the session cannot accept commands.
	ErrNotReady = errors.New("session not ready")
	// ErrTimeout means no matching response arrived in time.
	ErrTimeout = errors.New("command timed out")
	// ErrDisconnected means the link dropped while the command was pending.
	ErrDisconnected = errors.New("disconnected")
	// ErrMaybeApplied accompanies ErrTimeout for state-mutating commands
	// that were transmitted but never acknowledged.
	ErrMaybeApplied = errors.New("command may have been applied")
)

// Writer transmits one encoded frame to the controller.
type Writer interface {
	WriteFrame(frame []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(frame []byte) error

func (f WriterFunc) WriteFrame(frame []byte) error { return f(frame) }

// Policy bounds the attempts per command.
type Policy struct {
	// QueryAttempts is the total attempts for idempotent commands.
	QueryAttempts int
	// UpdateAttempts is the total attempts for state-mutating commands.
	UpdateAttempts int
}

// DefaultPolicy retries queries twice and updates once.
func DefaultPolicy() Policy {
	return Policy{QueryAttempts: 3, UpdateAttempts: 2}
}

func (p Policy) attempts(cmd protocol.Command) int {
	n := p.UpdateAttempts
	if cmd.Idempotent() {
		n = p.QueryAttempts
	}
	return max(n, 1)
}

type key struct {
	opcode protocol.Opcode
	seq    uint64
}

type outcome struct {
	resp protocol.Response
	err  error
}

// pending is one transmitted command awaiting its response.
type pending struct {
	key     key
	issued  time.Time
	attempt int
	done    chan outcome
	once    sync.Once
}

func (p *pending) complete(o outcome) bool {
	delivered := false
	p.once.Do(func() {
		p.done <- o
		delivered = true
	})
	return delivered
}

// Stats counts dispatcher activity.
type Stats struct {
	Sent      uint64
	Retries   uint64
	Timeouts  uint64
	Unmatched uint64
}

// Dispatcher serializes commands over a Writer.
type Dispatcher struct {
	writer Writer
	ready  func() bool
	policy Policy
	logger *logrus.Logger

	// turn is held by the command currently in flight. Blocked senders
	// acquire it in arrival order.
	turn    chan struct{}
	seq     atomic.Uint64
	pending *hashmap.Map[uint64, *pending]

	sent, retries, timeouts, unmatched atomic.Uint64
}

// New creates a dispatcher. ready reports whether the session accepts commands.
func New(w Writer, ready func() bool, policy Policy, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if policy.QueryAttempts == 0 && policy.UpdateAttempts == 0 {
		policy = DefaultPolicy()
	}
	return &Dispatcher{
		writer:  w,
		ready:   ready,
		policy:  policy,
		logger:  logger,
		turn:    make(chan struct{}, 1),
		pending: hashmap.New[uint64, *pending](),
	}
}

// Send transmits cmd and waits for its response for at most timeout.
//
// Time spent queued behind other commands counts against timeout. Each
// attempt waits for an equal share of the remaining time, so retries never
// extend the bound. Cancelling ctx abandons the wait; a frame already
// written is not recalled.
func (d *Dispatcher) Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error) {
	if !d.ready() {
		return protocol.Response{}, ErrNotReady
	}

	frame, err := protocol.Encode(cmd)
	if err != nil {
		return protocol.Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case d.turn <- struct{}{}:
		defer func() { <-d.turn }()
	case <-ctx.Done():
		return protocol.Response{}, d.queueError(ctx)
	}

	attempts := d.policy.attempts(cmd)
	sent := 0
	log := d.logger.WithFields(logrus.Fields{
		"opcode":     cmd.Opcode().String(),
		"idempotent": cmd.Idempotent(),
	})

	for attempt := 1; attempt <= attempts; attempt++ {
		if !d.ready() {
			if attempt == 1 {
				return protocol.Response{}, ErrNotReady
			}
			return protocol.Response{}, ErrDisconnected
		}

		deadline, _ := ctx.Deadline()
		share := time.Until(deadline) / time.Duration(attempts-attempt+1)

		p := &pending{
			key:     key{opcode: cmd.Opcode(), seq: d.seq.Add(1)},
			issued:  time.Now(),
			attempt: attempt,
			done:    make(chan outcome, 1),
		}
		d.pending.Set(p.key.seq, p)
		if !d.ready() {
			d.pending.Del(p.key.seq)
			return protocol.Response{}, ErrDisconnected
		}

		log.WithFields(logrus.Fields{
			"seq":     p.key.seq,
			"attempt": attempt,
		}).Debug("Sending command")

		if attempt > 1 {
			d.retries.Add(1)
		}
		d.sent.Add(1)
		sent++

		timer := time.NewTimer(share)
		err := d.write(ctx, frame, timer.C)
		if err != nil && !errors.Is(err, ErrTimeout) {
			timer.Stop()
			d.pending.Del(p.key.seq)
			if ctx.Err() == nil {
				log.WithField("error", err).Warn("Failed to write command")
			}
			return protocol.Response{}, err
		}
		if err != nil {
			// The stack still owns the frame, so another attempt would queue
			// behind it. The controller may or may not have received it.
			timer.Stop()
			d.pending.Del(p.key.seq)
			d.timeouts.Add(1)
			log.WithField("attempt", attempt).Warn("Command write did not complete in time")
			break
		}

		o, err := d.await(ctx, p, timer.C)
		timer.Stop()
		d.pending.Del(p.key.seq)
		if err == nil {
			if o.err != nil {
				log.WithField("error", o.err).Debug("Command failed")
			}
			return o.resp, o.err
		}
		if !errors.Is(err, ErrTimeout) {
			return protocol.Response{}, err
		}

		d.timeouts.Add(1)
		log.WithField("attempt", attempt).Debug("Command attempt timed out")
		if ctx.Err() != nil {
			break
		}
	}

	if !cmd.Idempotent() {
		return protocol.Response{}, fmt.Errorf("%w after %d attempts: %w", ErrTimeout, sent, ErrMaybeApplied)
	}
	return protocol.Response{}, fmt.Errorf("%w after %d attempts", ErrTimeout, sent)
}

// write hands frame to the writer and waits for it within the attempt
// deadline. A write still running when the deadline passes returns
// ErrTimeout and is left to finish on its own goroutine.
func (d *Dispatcher) write(ctx context.Context, frame []byte, deadline <-chan time.Time) error {
	written := make(chan error, 1)
	groutine.Go(ctx, "dispatch-write", func(context.Context) {
		written <- d.writer.WriteFrame(frame)
	})

	select {
	case err := <-written:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}
		return nil
	case <-deadline:
		return ErrTimeout
	case <-ctx.Done():
		return ctxError(ctx)
	}
}

// await waits for p to complete. A nil error means p completed; its
// outcome may still carry a command error.
func (d *Dispatcher) await(ctx context.Context, p *pending, deadline <-chan time.Time) (outcome, error) {
	select {
	case o := <-p.done:
		return o, nil
	case <-deadline:
		return outcome{}, ErrTimeout
	case <-ctx.Done():
		return outcome{}, ctxError(ctx)
	}
}

// ctxError maps an expired Send deadline to ErrTimeout and passes caller
// cancellation through.
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func (d *Dispatcher) queueError(ctx context.Context) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	d.timeouts.Add(1)
	return fmt.Errorf("%w while queued", ErrTimeout)
}

// Deliver offers a reassembled frame to the in-flight command. It reports
// whether the frame completed a pending command.
func (d *Dispatcher) Deliver(f protocol.Frame) bool {
	var match *pending
	d.pending.Range(func(_ uint64, p *pending) bool {
		if p.key.opcode == f.Opcode {
			match = p
			return false
		}
		return true
	})
	if match == nil {
		d.unmatched.Add(1)
		return false
	}

	resp, err := protocol.DecodeResponse(f)
	if errors.Is(err, protocol.ErrUnknownOpcode) {
		err = nil
	}
	if !match.complete(outcome{resp: resp, err: err}) {
		return false
	}

	d.logger.WithFields(logrus.Fields{
		"opcode":  f.Opcode.String(),
		"seq":     match.key.seq,
		"latency": time.Since(match.issued),
	}).Debug("Command response received")
	return true
}

// FailAll completes every pending command with ErrDisconnected.
func (d *Dispatcher) FailAll(cause error) int {
	failed := 0
	d.pending.Range(func(seq uint64, p *pending) bool {
		err := ErrDisconnected
		if cause != nil {
			err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
		}
		if p.complete(outcome{err: err}) {
			failed++
		}
		d.pending.Del(seq)
		return true
	})
	if failed > 0 {
		d.logger.WithField("commands", failed).Debug("Failed pending commands")
	}
	return failed
}

// Pending returns the number of commands awaiting a response.
func (d *Dispatcher) Pending() int {
	return d.pending.Len()
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:      d.sent.Load(),
		Retries:   d.retries.Load(),
		Timeouts:  d.timeouts.Load(),
		Unmatched: d.unmatched.Load(),
	}
}
