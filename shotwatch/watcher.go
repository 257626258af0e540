// Package shotwatch watches one web page for visual changes. Every interval
// it checks connectivity, renders the page in headless Chrome, crops a fixed
// region, keeps the last few crops on disk and, when the two most recent
// crops differ, sends the newest one to a Telegram chat.
//
// shotwatch compares pixels, it does not interpret the page. Any visual
// change inside the crop, including ads or banners, triggers a notification.
package shotwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/listingwatch/channels"
	"github.com/hazyhaar/listingwatch/connectivity"
	"github.com/hazyhaar/listingwatch/observability"
	"github.com/hazyhaar/listingwatch/shotwatch/internal/browser"
	"github.com/hazyhaar/listingwatch/shotwatch/internal/capture"
	"github.com/hazyhaar/listingwatch/shotwatch/internal/diff"
	"github.com/hazyhaar/listingwatch/shotwatch/internal/history"
	"github.com/hazyhaar/listingwatch/watch"
)

// Outcome is the result of one poll cycle.
type Outcome string

const (
	OutcomeOffline             Outcome = "offline"
	OutcomeCaptureFailed       Outcome = "capture_failed"
	OutcomeInsufficientHistory Outcome = "insufficient_history"
	OutcomeNoChange            Outcome = "no_change"
	OutcomeChanged             Outcome = "changed"
	OutcomeFailed              Outcome = "failed" // the cycle panicked
)

var outcomes = []Outcome{
	OutcomeOffline, OutcomeCaptureFailed, OutcomeInsufficientHistory,
	OutcomeNoChange, OutcomeChanged, OutcomeFailed,
}

// Prober reports whether outbound network access works.
type Prober interface {
	IsConnected(ctx context.Context) bool
}

// Capturer produces one cropped, timestamped capture of the target page.
type Capturer interface {
	Capture(ctx context.Context) (*capture.Capture, error)
}

// Detector decides whether two stored captures differ. Unreadable files
// count as unchanged.
type Detector interface {
	DifferFiles(olderPath, newerPath string) bool
}

// Notifier delivers change notifications.
type Notifier interface {
	SendPhoto(ctx context.Context, path, caption string) error
	SendMessage(ctx context.Context, text string) error
}

// EventLog records cycle outcomes. Implementations must not block the cycle
// on failure.
type EventLog interface {
	LogCycle(ctx context.Context, ev observability.CycleEvent)
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Option overrides a component built by New.
type Option func(*Watcher)

// WithProber replaces the HTTP connectivity probe.
func WithProber(p Prober) Option { return func(w *Watcher) { w.prober = p } }

// WithCapturer replaces the Chrome-backed capturer.
func WithCapturer(c Capturer) Option { return func(w *Watcher) { w.capturer = c } }

// WithDetector replaces the pixel detector.
func WithDetector(d Detector) Option { return func(w *Watcher) { w.detector = d } }

// WithNotifier replaces the Telegram notifier.
func WithNotifier(n Notifier) Option { return func(w *Watcher) { w.notifier = n } }

// WithEventLog records cycle outcomes. When set, the events_db setting is
// ignored.
func WithEventLog(e EventLog) Option { return func(w *Watcher) { w.events = e } }

// Watcher is the top-level orchestrator. It owns the capture history and
// runs poll cycles sequentially.
type Watcher struct {
	cfg    *Config
	logger *slog.Logger

	prober   Prober
	capturer Capturer
	detector Detector
	notifier Notifier
	events   EventLog
	history  *history.Store
	loop     *watch.Loop

	// owned resources released by Close
	mgr     *browser.Manager
	closers []func() error

	counts map[Outcome]*atomic.Int64

	mu           sync.Mutex
	lastOutcome  Outcome
	lastCycleAt  time.Time
	lastChangeAt time.Time
}

// New creates a Watcher from configuration. Components not supplied through
// options are built from cfg: an HTTP probe, a Chrome capturer, the pixel
// detector, the Telegram notifier and, when cfg.EventsDB is set, the SQLite
// event log.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := history.Open(cfg.ScreenshotDir, logger)
	if err != nil {
		return nil, fmt.Errorf("shotwatch: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		logger:  logger,
		history: store,
		counts:  make(map[Outcome]*atomic.Int64, len(outcomes)),
	}
	for _, o := range outcomes {
		w.counts[o] = new(atomic.Int64)
	}
	for _, o := range opts {
		o(w)
	}

	if w.prober == nil {
		w.prober = connectivity.NewProbe(connectivity.ProbeConfig{
			URL:     cfg.Probe.URL,
			Timeout: cfg.Probe.Timeout,
			Logger:  logger,
		})
	}
	if w.detector == nil {
		w.detector = diff.New(logger)
	}
	if w.notifier == nil {
		w.notifier = channels.NewTelegram(channels.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			APIURL:   cfg.Telegram.APIURL,
			Timeout:  cfg.Telegram.Timeout,
		}, channels.WithLogger(logger))
	}
	if w.capturer == nil {
		if err := w.buildCapturer(); err != nil {
			return nil, err
		}
	}
	if w.events == nil && cfg.EventsDB != "" {
		db, err := observability.Open(cfg.EventsDB)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("shotwatch: events db: %w", err)
		}
		w.closers = append(w.closers, db.Close)
		w.events = observability.NewEventLogger(db, observability.WithLogger(logger))
	}

	w.loop = watch.New(watch.Options{
		Interval:  cfg.Interval,
		Tick:      cfg.Tick,
		Immediate: cfg.RunOnStart,
		Logger:    logger,
	})
	return w, nil
}

func (w *Watcher) buildCapturer() error {
	level, err := browser.ParseStealth(w.cfg.Browser.Stealth)
	if err != nil {
		return fmt.Errorf("shotwatch: %w", err)
	}
	w.mgr = browser.NewManager(browser.Config{
		RemoteURL:        w.cfg.Browser.Remote,
		Bin:              w.cfg.Browser.Bin,
		NoSandbox:        w.cfg.Browser.NoSandbox,
		Stealth:          level,
		ResourceBlocking: w.cfg.Browser.ResourceBlocking,
		ViewportWidth:    w.cfg.Browser.ViewportWidth,
		ViewportHeight:   w.cfg.Browser.ViewportHeight,
		NavigateTimeout:  w.cfg.Browser.NavigateTimeout,
		Logger:           w.logger,
	})
	w.capturer = capture.New(&capture.ChromeRenderer{
		Manager:      w.mgr,
		Settle:       w.cfg.Capture.Settle,
		ReadyTimeout: w.cfg.Capture.ReadyTimeout,
		Logger:       w.logger,
	}, capture.Config{
		URL:          w.cfg.URL,
		FullPagePath: w.cfg.FullPagePath,
		Timeout:      w.cfg.Capture.Timeout,
		Logger:       w.logger,
	})
	return nil
}

// Run blocks until ctx is cancelled, running one cycle per interval.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("shotwatch: watching", "url", w.cfg.URL, "dir", w.history.Dir(), "interval", w.cfg.Interval)
	w.loop.Run(ctx, func(ctx context.Context) { w.RunCycle(ctx) })
}

// RunCycle performs one probe, capture, compare and notify pass. It never
// returns an error: every failure maps to an Outcome and is logged.
func (w *Watcher) RunCycle(ctx context.Context) (out Outcome) {
	start := time.Now()
	var captureID, detail string

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("shotwatch: cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = OutcomeFailed
			detail = fmt.Sprint(r)
		}
		w.record(ctx, out, captureID, detail, time.Since(start))
	}()

	if !w.prober.IsConnected(ctx) {
		w.logger.Warn("shotwatch: offline, skipping cycle")
		return OutcomeOffline
	}

	capt, err := w.capturer.Capture(ctx)
	if err != nil {
		w.logger.Error("shotwatch: capture failed", "error", err)
		detail = err.Error()
		return OutcomeCaptureFailed
	}
	captureID = capt.ID

	entry, err := w.history.Add(capt.Timestamp, capt.Image)
	if err != nil {
		w.logger.Error("shotwatch: save capture failed", "capture_id", capt.ID, "error", err)
		detail = err.Error()
		return OutcomeCaptureFailed
	}
	w.logger.Info("shotwatch: capture saved", "capture_id", capt.ID, "path", entry.Path)

	if n, err := w.history.RetainLatest(w.cfg.Keep); err != nil {
		w.logger.Warn("shotwatch: retention incomplete", "error", err)
	} else if n > 0 {
		w.logger.Debug("shotwatch: old captures removed", "count", n)
	}

	older, newer, err := w.history.LatestTwo()
	if err != nil {
		w.logger.Info("shotwatch: not enough captures to compare", "count", w.history.Len())
		return OutcomeInsufficientHistory
	}

	if !w.detector.DifferFiles(older.Path, newer.Path) {
		w.logger.Info("shotwatch: no change", "older", older.Name, "newer", newer.Name)
		return OutcomeNoChange
	}

	w.logger.Info("shotwatch: change detected", "older", older.Name, "newer", newer.Name)
	detail = newer.Name
	w.notify(ctx, newer.Path)
	return OutcomeChanged
}

// notify sends the changed capture followed by the page URL. Failures are
// logged and never retried.
func (w *Watcher) notify(ctx context.Context, path string) {
	timeout := w.cfg.Telegram.Timeout

	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := w.notifier.SendPhoto(pctx, path, w.cfg.Caption)
	cancel()
	if err != nil {
		w.logger.Error("shotwatch: photo notification failed", "error", err)
	}

	mctx, cancel := context.WithTimeout(ctx, timeout)
	err = w.notifier.SendMessage(mctx, w.cfg.URL)
	cancel()
	if err != nil {
		w.logger.Error("shotwatch: link notification failed", "error", err)
	}
}

func (w *Watcher) record(ctx context.Context, out Outcome, captureID, detail string, elapsed time.Duration) {
	w.counts[out].Add(1)

	now := time.Now()
	w.mu.Lock()
	w.lastOutcome = out
	w.lastCycleAt = now
	if out == OutcomeChanged {
		w.lastChangeAt = now
	}
	w.mu.Unlock()

	w.logger.Debug("shotwatch: cycle done", "outcome", string(out), "duration", elapsed)

	if w.events == nil {
		return
	}
	// A cancelled loop context must not lose the final event.
	ectx := context.WithoutCancel(ctx)
	w.events.LogCycle(ectx, observability.CycleEvent{
		CaptureID: captureID,
		Outcome:   string(out),
		Detail:    detail,
		Duration:  elapsed,
	})
	if n, err := w.events.Cleanup(ectx, w.cfg.EventsRetention); err != nil {
		w.logger.Warn("shotwatch: event cleanup failed", "error", err)
	} else if n > 0 {
		w.logger.Debug("shotwatch: old events removed", "count", n)
	}
}

// Stats is a snapshot of the watcher's counters.
type Stats struct {
	Cycles       map[Outcome]int64 `json:"cycles"`
	LastOutcome  Outcome           `json:"last_outcome,omitempty"`
	LastCycleAt  time.Time         `json:"last_cycle_at,omitzero"`
	LastChangeAt time.Time         `json:"last_change_at,omitzero"`
	Captures     int               `json:"captures"`
	Loop         watch.Stats       `json:"loop"`
	// Notifier is set when the notifier reports delivery counters.
	Notifier *channels.ChannelStatus `json:"notifier,omitempty"`
}

// notifierStatus is implemented by notifiers that keep delivery counters.
type notifierStatus interface {
	Status() channels.ChannelStatus
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Cycles:   make(map[Outcome]int64, len(w.counts)),
		Captures: w.history.Len(),
		Loop:     w.loop.Stats(),
	}
	for o, c := range w.counts {
		s.Cycles[o] = c.Load()
	}
	if ns, ok := w.notifier.(notifierStatus); ok {
		st := ns.Status()
		s.Notifier = &st
	}
	w.mu.Lock()
	s.LastOutcome = w.lastOutcome
	s.LastCycleAt = w.lastCycleAt
	s.LastChangeAt = w.lastChangeAt
	w.mu.Unlock()
	return s
}

// Close releases the browser and the event database.
func (w *Watcher) Close() error {
	var errs []error
	if w.mgr != nil {
		errs = append(errs, w.mgr.Close())
	}
	for _, c := range w.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
