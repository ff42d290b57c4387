// Package groutine runs named worker goroutines. The name is attached as a
// pprof label so session and bridge workers can be told apart in profiles and
// goroutine dumps, and it is available to the worker through its context.
package groutine

import (
	"context"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type nameKey struct{}

// Go starts fn on a new goroutine labeled name. A nil ctx means
// context.Background().
//
//	groutine.Go(ctx, "ble-link-monitor", func(ctx context.Context) {
//	    <-ctx.Done()
//	})
func Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go pprof.Do(ctx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey{}, name))
	})
}

// Name returns the name of the worker running with ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}

// Group tracks the workers of one owner (a session, a bridge) so it can wait
// for all of them on shutdown. A worker panic is logged and ends that worker
// only. The zero value is ready to use and logs through logrus.New().
type Group struct {
	Logger *logrus.Logger

	wg      sync.WaitGroup
	running atomic.Int32
	panics  atomic.Int32
}

// Go starts fn as a named worker of the group.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	g.running.Add(1)
	Go(ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer g.running.Add(-1)
		defer g.recover(name)
		fn(ctx)
	})
}

func (g *Group) recover(name string) {
	r := recover()
	if r == nil {
		return
	}
	g.panics.Add(1)
	logger := g.Logger
	if logger == nil {
		logger = logrus.New()
	}
	logger.WithFields(logrus.Fields{
		"goroutine": name,
		"panic":     r,
		"stack":     string(debug.Stack()),
	}).Error("Worker panicked")
}

// Running returns the number of workers that have not returned yet.
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Panics returns how many workers ended with a panic.
func (g *Group) Panics() int {
	return int(g.panics.Load())
}

// Wait blocks until every worker started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
