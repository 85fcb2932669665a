package telemetry

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/storage"
)

const (
	// DefaultWindow is the trailing window summaries look at.
	DefaultWindow = 24 * time.Hour
	// LatencySampleLimit caps how many recent samples a summary reads.
	LatencySampleLimit = 500
	// FunnelSampleLimit caps how many funnel samples a funnel summary reads.
	FunnelSampleLimit = 2000
)

// Summarizer reads stored samples and reduces them to summaries. Read errors
// are logged and reported as "no data".
type Summarizer struct {
	store  storage.LatencyStore
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer creates a Summarizer over store.
func NewSummarizer(store storage.LatencyStore, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Summarizer{store: store, logger: logger, now: time.Now}
}

// Summarize returns the latency summary for area over the trailing window,
// or nil when there are no samples or they could not be read.
func (s *Summarizer) Summarize(ctx context.Context, area model.LatencyArea, window time.Duration) *model.LatencySummary {
	if window <= 0 {
		window = DefaultWindow
	}
	samples, err := s.store.RecentLatency(ctx, area, s.now().Add(-window), LatencySampleLimit)
	if err != nil {
		s.logger.Warn("telemetry: latency summary read failed", "area", area, "error", err)
		return nil
	}
	return Summarize(samples)
}

// Funnel returns the commercial funnel summary over the trailing window.
func (s *Summarizer) Funnel(ctx context.Context, window time.Duration) (model.FunnelSummary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	samples, err := s.store.RecentLatency(ctx, model.AreaCommercialFunnel, s.now().Add(-window), FunnelSampleLimit)
	if err != nil {
		return model.FunnelSummary{}, err
	}
	return SummarizeFunnel(samples), nil
}

// Summarize reduces samples to count, rounded mean, nearest-rank p95 and the
// fraction of samples not explicitly marked failed. It returns nil for an
// empty slice.
func Summarize(samples []model.LatencySample) *model.LatencySummary {
	if len(samples) == 0 {
		return nil
	}
	st := reduce(samples)
	return &model.LatencySummary{
		Count:       st.count,
		AvgMs:       st.avg,
		P95Ms:       st.p95,
		SuccessRate: st.successRate,
	}
}

// SummarizeFunnel builds per-stage summaries (a funnel sample's route is its
// stage) and the drop-off between adjacent stages.
func SummarizeFunnel(samples []model.LatencySample) model.FunnelSummary {
	byStage := make(map[string][]model.LatencySample, len(model.FunnelStages))
	for _, s := range samples {
		byStage[s.Route] = append(byStage[s.Route], s)
	}

	out := model.FunnelSummary{
		Stages:  make([]model.FunnelStageSummary, 0, len(model.FunnelStages)),
		Dropoff: make([]model.FunnelDropoff, 0, len(model.FunnelStages)-1),
	}
	for _, stage := range model.FunnelStages {
		rows := byStage[stage]
		sum := model.FunnelStageSummary{Stage: stage}
		if len(rows) > 0 {
			st := reduce(rows)
			sum.Count = st.count
			sum.AvgMs = st.avg
			sum.P95Ms = st.p95
			sum.SuccessRate = round2(st.successRate)
			last := st.lastSeen
			sum.LastSeen = &last
		}
		out.Stages = append(out.Stages, sum)
	}

	for i := 1; i < len(out.Stages); i++ {
		prev, cur := out.Stages[i-1], out.Stages[i]
		d := model.FunnelDropoff{
			From:         prev.Stage,
			To:           cur.Stage,
			FromCount:    prev.Count,
			ToCount:      cur.Count,
			DropoffCount: max(prev.Count-cur.Count, 0),
		}
		if prev.Count > 0 {
			d.ConversionRate = round2(float64(cur.Count) / float64(prev.Count))
		}
		out.Dropoff = append(out.Dropoff, d)
	}
	return out
}

type stats struct {
	count       int
	avg         int
	p95         int
	successRate float64
	lastSeen    time.Time
}

func reduce(samples []model.LatencySample) stats {
	durations := make([]int, len(samples))
	total, ok := 0, 0
	var last time.Time
	for i, s := range samples {
		durations[i] = s.DurationMs
		total += s.DurationMs
		if !s.Failed() {
			ok++
		}
		if s.OccurredAt.After(last) {
			last = s.OccurredAt
		}
	}
	slices.Sort(durations)
	n := len(durations)
	return stats{
		count:       n,
		avg:         int(math.Round(float64(total) / float64(n))),
		p95:         durations[P95Index(n)],
		successRate: float64(ok) / float64(n),
		lastSeen:    last,
	}
}

// P95Index is the nearest-rank index floor(0.95*(n-1)) into n sorted values.
func P95Index(n int) int {
	if n <= 1 {
		return 0
	}
	return int(math.Floor(0.95 * float64(n-1)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
