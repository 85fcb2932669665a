// Package triage classifies free-text emergency descriptions into medical,
// stray, crisis or normal.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/heuristics"
	"github.com/ashita-ai/kensa/internal/llm"
	"github.com/ashita-ai/kensa/internal/model"
)

const systemPrompt = `You are an emergency dispatcher for dog owners. Classify the emergency message into one of these categories:
- medical: Health or injury issues requiring a veterinarian (e.g., bleeding, choking, seizures)
- stray: Found a dog without an owner, lost dog, captured stray
- crisis: Behavioral crisis such as aggression, extreme fear, sudden dangerous behavior
- normal: Everything else that is not above

Respond strictly in JSON with keys: classification, confidence, summary, recommended_action, urgency`

const answerSchema = `{
  "type": "object",
  "required": ["classification", "confidence"],
  "properties": {
    "classification": {"enum": ["medical", "stray", "crisis", "normal"]},
    "confidence": {"type": "number"},
    "summary": {"type": "string"},
    "recommended_action": {"enum": ["vet", "shelter", "trainer", "other"]},
    "urgency": {"enum": ["immediate", "urgent", "moderate", "low"]}
  }
}`

// Recommended actions attached to every triage verdict.
const (
	RecommendVet     = "vet"
	RecommendShelter = "shelter"
	RecommendTrainer = "trainer"
	RecommendOther   = "other"
)

type answer struct {
	Classification    string  `json:"classification"`
	Confidence        float64 `json:"confidence"`
	Summary           string  `json:"summary"`
	RecommendedAction string  `json:"recommended_action"`
	Urgency           string  `json:"urgency"`
}

// Input is one situation to classify.
type Input struct {
	Description string
}

// Service runs the triage policy through the arbiter.
type Service struct {
	arb    *arbiter.Arbiter
	policy arbiter.Policy[Input]
	logger *slog.Logger
}

// New creates a triage Service.
func New(arb *arbiter.Arbiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{arb: arb, policy: Policy(), logger: logger}
}

// Policy returns the triage arbitration policy.
func Policy() arbiter.Policy[Input] {
	return arbiter.Policy[Input]{
		Domain: model.DomainTriage,
		Prompt: func(in Input) llm.Request {
			return llm.Request{
				System:    systemPrompt,
				User:      in.Description,
				Format:    llm.FormatJSON,
				MaxTokens: 150,
			}
		},
		Decode: arbiter.JSONDecoder(arbiter.MustCompileSchema("triage", answerSchema), toVerdict),
		Heuristic: func(in Input) model.Verdict {
			v := heuristics.ClassifySituation(in.Description)
			details := map[string]any{"recommended_action": recommendationFor(v.Action)}
			for k, val := range v.Details {
				details[k] = val
			}
			v.Details = details
			return v
		},
	}
}

func toVerdict(a answer) (model.Verdict, error) {
	if !heuristics.ValidTriageCategory(a.Classification) {
		return model.Verdict{}, fmt.Errorf("unknown classification %q", a.Classification)
	}
	summary := strings.TrimSpace(a.Summary)
	if summary == "" {
		summary = "No summary provided"
	}
	rec := a.RecommendedAction
	if rec == "" {
		rec = recommendationFor(a.Classification)
	}
	details := map[string]any{"recommended_action": rec}
	if a.Urgency != "" {
		details["urgency"] = a.Urgency
	}
	return model.Verdict{
		Action:     a.Classification,
		Confidence: a.Confidence,
		Reason:     summary,
		Details:    details,
	}, nil
}

func recommendationFor(category string) string {
	switch category {
	case heuristics.CategoryMedical:
		return RecommendVet
	case heuristics.CategoryStray:
		return RecommendShelter
	case heuristics.CategoryCrisis:
		return RecommendTrainer
	default:
		return RecommendOther
	}
}

// Classify produces the triage judgment for subjectID.
func (s *Service) Classify(ctx context.Context, subjectID int64, description string) model.Judgment {
	j := arbiter.Evaluate(ctx, s.arb, s.policy, subjectID, Input{Description: description})
	s.logger.Debug("triage: classified",
		"subject_id", subjectID, "action", j.Action, "source", j.Source, "mode", j.Meta.Mode)
	return j
}
