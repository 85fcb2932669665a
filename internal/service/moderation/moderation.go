// Package moderation routes user reviews to auto-approve, auto-reject or a
// human queue, and runs the batch cycle over pending reviews.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/heuristics"
	"github.com/ashita-ai/kensa/internal/llm"
	"github.com/ashita-ai/kensa/internal/model"
)

// JobName is the heartbeat job written after each cycle.
const JobName = "moderation"

// DefaultBatchSize is the number of pending reviews one cycle reads.
const DefaultBatchSize = 30

const systemPrompt = `You moderate reviews of dog trainers on a public directory.
Decide one action:
- auto_approve: detailed, genuine feedback with nothing risky
- auto_reject: spam, advertising, outbound links, abuse
- manual: anything a human should read first

Respond strictly in JSON with keys: action, confidence, reason`

const answerSchema = `{
  "type": "object",
  "required": ["action", "confidence", "reason"],
  "properties": {
    "action": {"enum": ["auto_approve", "auto_reject", "manual"]},
    "confidence": {"type": "number"},
    "reason": {"type": "string", "minLength": 1}
  }
}`

type answer struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Store is what the moderation cycle reads and writes.
type Store interface {
	PendingReviews(ctx context.Context, limit int) ([]model.Review, error)
	ApproveReview(ctx context.Context, id int64) error
	RejectReview(ctx context.Context, id int64, reason string) error
	DecidedSubjects(ctx context.Context, domain string, ids []int64) (map[int64]bool, error)
	RecordCronRun(ctx context.Context, run model.CronRun) (model.CronRun, error)
}

// Config tunes the moderation policy.
type Config struct {
	// MinLength is the body length a positive review must exceed to be
	// auto-approved by the heuristic.
	MinLength int
	BatchSize int
}

// Service moderates reviews.
type Service struct {
	arb    *arbiter.Arbiter
	store  Store
	policy arbiter.Policy[heuristics.ReviewInput]
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a moderation Service. store may be nil when only Moderate is
// used.
func New(arb *arbiter.Arbiter, store Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.MinLength <= 0 {
		cfg.MinLength = heuristics.DefaultMinReviewLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		arb:    arb,
		store:  store,
		policy: Policy(cfg.MinLength),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Policy returns the moderation arbitration policy.
func Policy(minLength int) arbiter.Policy[heuristics.ReviewInput] {
	return arbiter.Policy[heuristics.ReviewInput]{
		Domain: model.DomainModeration,
		Prompt: func(r heuristics.ReviewInput) llm.Request {
			return llm.Request{
				System:    systemPrompt,
				User:      fmt.Sprintf("Rating: %d/5\nTitle: %s\nReview: %s", r.Rating, r.Title, r.Content),
				Format:    llm.FormatJSON,
				MaxTokens: 200,
			}
		},
		Decode: arbiter.JSONDecoder(arbiter.MustCompileSchema("moderation", answerSchema),
			func(a answer) (model.Verdict, error) {
				return model.Verdict{Action: a.Action, Confidence: a.Confidence, Reason: a.Reason}, nil
			}),
		Heuristic: func(r heuristics.ReviewInput) model.Verdict {
			return heuristics.ModerateReview(r, minLength)
		},
	}
}

// Moderate produces the moderation judgment for one review.
func (s *Service) Moderate(ctx context.Context, subjectID int64, r heuristics.ReviewInput) model.Judgment {
	return arbiter.Evaluate(ctx, s.arb, s.policy, subjectID, r)
}

// RunCycle moderates up to BatchSize pending reviews, oldest first. Reviews
// that already have a moderation ledger entry are skipped. Approve and
// reject decisions are applied to the queue; manual ones stay pending. The
// cycle writes a heartbeat for JobName whether it succeeds or not.
func (s *Service) RunCycle(ctx context.Context) (model.ModerationRunResult, error) {
	if s.store == nil {
		return model.ModerationRunResult{}, errors.New("moderation: no review store configured")
	}
	started := s.now().UTC()
	res, err := s.runCycle(ctx)
	s.heartbeat(ctx, started, err)
	if err != nil {
		return res, err
	}
	s.logger.Info("moderation: cycle complete",
		"processed", res.Processed,
		"auto_approved", res.AutoApproved,
		"auto_rejected", res.AutoRejected,
		"manual", res.ManualReview,
		"already_decided", res.AlreadyDecided,
	)
	return res, nil
}

func (s *Service) runCycle(ctx context.Context) (model.ModerationRunResult, error) {
	var res model.ModerationRunResult
	reviews, err := s.store.PendingReviews(ctx, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("moderation: pending reviews: %w", err)
	}
	if len(reviews) == 0 {
		return res, nil
	}

	ids := make([]int64, len(reviews))
	for i, r := range reviews {
		ids[i] = r.ID
	}
	decided, err := s.store.DecidedSubjects(ctx, model.DomainModeration, ids)
	if err != nil {
		return res, fmt.Errorf("moderation: decided subjects: %w", err)
	}

	var errs []error
	for _, r := range reviews {
		if decided[r.ID] {
			res.AlreadyDecided++
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		j := s.Moderate(ctx, r.ID, heuristics.ReviewInput{Rating: r.Rating, Title: r.Title, Content: r.Content})
		switch j.Action {
		case heuristics.ActionAutoApprove:
			if err := s.store.ApproveReview(ctx, r.ID); err != nil {
				errs = append(errs, fmt.Errorf("moderation: approve review %d: %w", r.ID, err))
				continue
			}
			res.AutoApproved++
		case heuristics.ActionAutoReject:
			if err := s.store.RejectReview(ctx, r.ID, j.Reason); err != nil {
				errs = append(errs, fmt.Errorf("moderation: reject review %d: %w", r.ID, err))
				continue
			}
			res.AutoRejected++
		default:
			res.ManualReview++
		}
		res.Processed++
	}
	return res, errors.Join(errs...)
}

func (s *Service) heartbeat(ctx context.Context, started time.Time, cycleErr error) {
	done := s.now().UTC()
	dur := int(done.Sub(started).Milliseconds())
	run := model.CronRun{
		JobName:     JobName,
		Status:      model.CronStatusSuccess,
		StartedAt:   started,
		CompletedAt: &done,
		DurationMs:  &dur,
	}
	if cycleErr != nil {
		msg := cycleErr.Error()
		run.Status = model.CronStatusFailed
		run.ErrorMessage = &msg
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.store.RecordCronRun(ctx, run); err != nil {
		s.logger.Error("moderation: heartbeat write failed", "error", err)
	}
}
