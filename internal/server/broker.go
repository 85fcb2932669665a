package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ashita-ai/kensa/internal/model"
)

const (
	// eventAlert is the SSE event type of a forwarded alert.
	eventAlert = "alert"

	subscriberBuffer = 64
)

// StreamFilter narrows what a subscriber receives. Zero value passes all.
type StreamFilter struct {
	// MinSeverity drops alerts ranked below it (info < warning < critical).
	MinSeverity model.Severity
	// Areas, when non-empty, keeps only alerts in these areas.
	Areas map[string]bool
	// ExcludeSuppressed drops alerts covered by an override.
	ExcludeSuppressed bool
}

func (f StreamFilter) match(a model.Alert) bool {
	if a.Suppressed && f.ExcludeSuppressed {
		return false
	}
	if f.MinSeverity != "" && a.Severity.Rank() > f.MinSeverity.Rank() {
		return false
	}
	return len(f.Areas) == 0 || f.Areas[a.Area]
}

// Subscription is one SSE client's feed. Events arrive pre-encoded on C.
type Subscription struct {
	C       chan []byte
	filter  StreamFilter
	dropped atomic.Int64
}

// Dropped counts events skipped because the client fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Broker fans out notified alerts to SSE subscribers. It implements
// alerts.Notifier so the watcher can publish to it alongside other sinks.
type Broker struct {
	logger *slog.Logger
	seq    atomic.Uint64

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{logger: logger, subs: make(map[*Subscription]struct{})}
}

// Notify sends each alert to every subscriber whose filter accepts it.
// Slow subscribers lose events rather than stall the watcher.
func (b *Broker) Notify(_ context.Context, alerts []model.Alert) error {
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("broker: marshal alert %s: %w", a.ID, err)
		}
		event := formatSSE(b.seq.Add(1), eventAlert, data)

		b.mu.RLock()
		dropped := 0
		for s := range b.subs {
			if !s.filter.match(a) {
				continue
			}
			select {
			case s.C <- event:
			default:
				s.dropped.Add(1)
				dropped++
			}
		}
		b.mu.RUnlock()
		if dropped > 0 {
			b.logger.Warn("broker: dropped alert for slow subscribers", "alert_id", a.ID, "subscribers", dropped)
		}
	}
	return nil
}

// Subscribe registers a client. Call Unsubscribe when the client goes away.
func (b *Broker) Subscribe(f StreamFilter) *Subscription {
	s := &Subscription{C: make(chan []byte, subscriberBuffer), filter: f}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.C)
	}
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// formatSSE renders one event. The id is a per-process sequence number.
func formatSSE(id uint64, eventType string, data []byte) []byte {
	out := make([]byte, 0, len(data)+48)
	out = append(out, "id: "...)
	out = strconv.AppendUint(out, id, 10)
	out = append(out, "\nevent: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}
