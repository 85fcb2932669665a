package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

// DefaultRecorderCapacity bounds the in-memory sample buffer.
const DefaultRecorderCapacity = 10_000

// Recorder accumulates latency samples in memory and writes them to the
// store in batches, either when the batch size is reached or on a timer.
// Recording never blocks the caller and never fails: samples that do not fit
// are dropped and counted.
type Recorder struct {
	store        storage.LatencyStore
	logger       *slog.Logger
	batchSize    int
	capacity     int
	flushTimeout time.Duration

	mu      sync.Mutex
	samples []model.LatencySample

	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// RecorderConfig tunes a Recorder. Zero values take defaults.
type RecorderConfig struct {
	BatchSize    int
	Capacity     int
	FlushTimeout time.Duration
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store storage.LatencyStore, logger *slog.Logger, cfg RecorderConfig) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRecorderCapacity
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		store:        store,
		logger:       logger,
		batchSize:    cfg.BatchSize,
		capacity:     cfg.Capacity,
		flushTimeout: cfg.FlushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL gauges. Call
// Drain to stop.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.registerMetrics()
		loopCtx, cancel := context.WithCancel(ctx)
		r.cancelLoop = cancel
		go r.flushLoop(loopCtx)
	})
}

// Record queues one sample. Samples with an unknown area or a negative
// duration are dropped with a warning.
func (r *Recorder) Record(s model.LatencySample) {
	if !model.ValidLatencyArea(s.Area) || s.DurationMs < 0 {
		r.dropped.Add(1)
		r.logger.Warn("telemetry: dropping invalid sample", "area", s.Area, "duration_ms", s.DurationMs)
		return
	}
	if s.OccurredAt.IsZero() {
		s.OccurredAt = time.Now().UTC()
	}

	r.mu.Lock()
	if len(r.samples) >= r.capacity {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Warn("telemetry: buffer at capacity, dropping sample", "area", s.Area)
		return
	}
	r.samples = append(r.samples, s)
	full := len(r.samples) >= r.batchSize
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final flush runs on the drain
			// context so it honours the caller's deadline.
			if r.drainCtx != nil {
				_ = r.Flush(r.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = r.Flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			_ = r.Flush(ctx)
		case <-r.flushCh:
			_ = r.Flush(ctx)
		}
	}
}

// Flush writes everything buffered so far. On failure the batch is put back
// if it still fits, otherwise it is dropped. The error is returned for
// tests and shutdown; the flush loop only logs it.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.samples) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.samples
	r.samples = nil
	r.mu.Unlock()

	start := time.Now()
	n, err := r.store.InsertLatencySamples(ctx, batch)
	if err != nil {
		r.logger.Error("telemetry: flush failed", "error", err, "batch_size", len(batch))
		r.mu.Lock()
		if len(r.samples)+len(batch) <= r.capacity {
			r.samples = append(batch, r.samples...)
		} else {
			r.dropped.Add(int64(len(batch)))
			r.logger.Error("telemetry: dropping samples, buffer at capacity after flush failure", "dropped", len(batch))
		}
		r.mu.Unlock()
		return err
	}

	r.logger.Debug("telemetry: batch flushed",
		"batch_size", n,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Drain stops the flush loop after a final flush, waiting at most until ctx
// is done. Calling Drain on a Recorder that was never started flushes inline.
func (r *Recorder) Drain(ctx context.Context) {
	if r.cancelLoop == nil {
		if err := r.Flush(ctx); err != nil {
			r.logger.Warn("telemetry: final flush failed", "error", err)
		}
		return
	}
	r.drainCtx = ctx
	r.cancelLoop()
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("telemetry: drain timed out waiting for flush loop")
	}
}

func (r *Recorder) registerMetrics() {
	meter := Meter("kensa/telemetry")

	_, _ = meter.Int64ObservableGauge("kensa.telemetry.buffer_depth",
		metric.WithDescription("Latency samples waiting to be written"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kensa.telemetry.dropped_total",
		metric.WithDescription("Latency samples dropped because they were invalid or the buffer was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.Dropped())
			return nil
		}),
	)
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Dropped returns the total number of samples dropped.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
