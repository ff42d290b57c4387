package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current phase and elapsed seconds on one
// terminal line. It prints nothing when w is not a terminal.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to AA:BB:...", "Connecting", "Ready")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w          io.Writer
	prefix     string
	phase      atomic.Value
	stopPhases map[string]struct{}
	enabled    bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer. Setting one of stopPhases through
// Callback stops it.
func NewProgressPrinter(w io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		w:          w,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		enabled:    isTerminal(w),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins updating the progress line in the background.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(started time.Time) {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.print(0)
	for {
		select {
		case <-p.stop:
			fmt.Fprint(p.w, clearLineSequence)
			return
		case <-ticker.C:
			p.print(int(time.Since(started).Seconds()))
		}
	}
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a function that updates the phase. It is safe for
// concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop clears the progress line. It may be called more than once.
func (p *ProgressPrinter) Stop() {
	p.Start()
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}
