package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
)

// Watcher defaults.
const (
	DefaultInterval = time.Minute
	DefaultRenotify = 30 * time.Minute
)

// Snapshotter produces alert snapshots. *Evaluator implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) model.AlertSnapshot
}

// Watcher evaluates alerts on a schedule and forwards newly firing,
// unsuppressed alerts to a Notifier. An alert that keeps firing is sent
// again once the renotify interval has passed; an alert that stops firing
// is forgotten, so its next occurrence is sent immediately.
type Watcher struct {
	eval     Snapshotter
	notifier Notifier
	interval time.Duration
	renotify time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWatcher creates a Watcher. Zero durations take the defaults.
func NewWatcher(eval Snapshotter, notifier Notifier, interval, renotify time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if renotify <= 0 {
		renotify = DefaultRenotify
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		eval:     eval,
		notifier: notifier,
		interval: interval,
		renotify: renotify,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

// Start launches the evaluation loop. Calling Start more than once is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.loop(ctx)
	})
}

// Stop ends the loop and waits for an in-flight tick to finish or for ctx
// to expire, whichever comes first.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one evaluation and notifies. It returns the alerts that were
// forwarded.
func (w *Watcher) Tick(ctx context.Context) []model.Alert {
	snap := w.eval.Snapshot(ctx)
	due := w.due(snap)
	if len(due) == 0 {
		return nil
	}
	if err := w.notifier.Notify(ctx, due); err != nil {
		// Unmark so the next tick retries.
		w.mu.Lock()
		for _, a := range due {
			delete(w.lastSent, a.ID)
		}
		w.mu.Unlock()
		w.logger.Error("alerts: notify failed", "alerts", len(due), "error", err)
		return nil
	}
	w.logger.Info("alerts: notified", "alerts", len(due))
	return due
}

// due selects the alerts to send and marks them sent at the snapshot time.
func (w *Watcher) due(snap model.AlertSnapshot) []model.Alert {
	w.mu.Lock()
	defer w.mu.Unlock()

	firing := make(map[string]bool, len(snap.Alerts))
	var out []model.Alert
	for _, a := range snap.Alerts {
		if a.Suppressed {
			continue
		}
		firing[a.ID] = true
		if last, ok := w.lastSent[a.ID]; ok && snap.GeneratedAt.Sub(last) < w.renotify {
			continue
		}
		w.lastSent[a.ID] = snap.GeneratedAt
		out = append(out, a)
	}
	for id := range w.lastSent {
		if !firing[id] {
			delete(w.lastSent, id)
		}
	}
	return out
}
