// Package watch runs a job on a fixed cadence from a single goroutine.
//
// The loop wakes every Tick and runs the job once the next scheduled time is
// due. The next run is scheduled one Interval after the previous run
// finished, so runs never overlap and a slow run pushes the schedule back
// instead of piling up.
//
// Typical usage:
//
//	l := watch.New(watch.Options{Interval: time.Minute})
//	l.Run(ctx, func(ctx context.Context) { w.RunCycle(ctx) })
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Options tunes the loop behaviour.
type Options struct {
	// Interval is the time between the end of one run and the start of the
	// next. Default: 1m.
	Interval time.Duration
	// Tick is how often the loop checks whether a run is due. Default: 1s.
	Tick time.Duration
	// Immediate runs the job on the first tick instead of one Interval
	// after start.
	Immediate bool
	// Now overrides the clock (tests).
	Now func() time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.Tick > o.Interval {
		o.Tick = o.Interval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Loop is a single-actor scheduler. Stats may be read from any goroutine.
type Loop struct {
	opts Options

	running atomic.Bool
	nextRun atomic.Int64 // unix nanos
	lastRun atomic.Int64 // unix nanos

	// Counters for observability (exported via Stats).
	ticks  atomic.Int64
	runs   atomic.Int64
	panics atomic.Int64
	runNs  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Ticks      int64         `json:"ticks"`
	Runs       int64         `json:"runs"`
	Panics     int64         `json:"panics"`
	AvgRunTime time.Duration `json:"avg_run_time"`
	LastRun    time.Time     `json:"last_run,omitzero"`
	NextRun    time.Time     `json:"next_run,omitzero"`
	Running    bool          `json:"running"`
}

// New creates a Loop. Call Run to start it.
func New(opts Options) *Loop {
	opts.defaults()
	return &Loop{opts: opts}
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	s := Stats{
		Ticks:   l.ticks.Load(),
		Runs:    l.runs.Load(),
		Panics:  l.panics.Load(),
		Running: l.running.Load(),
	}
	if s.Runs > 0 {
		s.AvgRunTime = time.Duration(l.runNs.Load() / s.Runs)
	}
	if ns := l.lastRun.Load(); ns != 0 {
		s.LastRun = time.Unix(0, ns)
	}
	if ns := l.nextRun.Load(); ns != 0 {
		s.NextRun = time.Unix(0, ns)
	}
	return s
}

// Run blocks until ctx is cancelled, running job whenever it is due. A
// panicking job is recovered and logged; the schedule continues.
func (l *Loop) Run(ctx context.Context, job func(ctx context.Context)) {
	log := l.opts.Logger

	next := l.opts.Now().Add(l.opts.Interval)
	if l.opts.Immediate {
		next = l.opts.Now()
	}
	l.nextRun.Store(next.UnixNano())

	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()

	log.Info("watch: started", "interval", l.opts.Interval, "tick", l.opts.Tick, "immediate", l.opts.Immediate)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return

		case <-ticker.C:
			l.ticks.Add(1)
			if l.opts.Now().Before(next) {
				continue
			}
			l.fire(ctx, job)
			if ctx.Err() != nil {
				log.Info("watch: stopped")
				return
			}
			next = l.opts.Now().Add(l.opts.Interval)
			l.nextRun.Store(next.UnixNano())
		}
	}
}

func (l *Loop) fire(ctx context.Context, job func(ctx context.Context)) {
	start := l.opts.Now()
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		elapsed := l.opts.Now().Sub(start)
		l.runs.Add(1)
		l.runNs.Add(int64(elapsed))
		l.lastRun.Store(start.UnixNano())
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.opts.Logger.Error("watch: job panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	job(ctx)
}
