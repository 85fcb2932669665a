package heuristics

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/kensa/internal/model"
)

// Moderation actions.
const (
	ActionAutoApprove = "auto_approve"
	ActionAutoReject  = "auto_reject"
	ActionManual      = "manual"
)

// DefaultMinReviewLength is the body length a positive review must exceed to
// be auto-approved.
const DefaultMinReviewLength = 60

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`http`),
	regexp.MustCompile(`www\.`),
	regexp.MustCompile(`buy now`),
	regexp.MustCompile(`call\s+\d`),
	regexp.MustCompile(`viagra`),
	regexp.MustCompile(`crypto`),
}

var positiveTerms = []string{"great", "helped", "training", "session", "recommend", "patient", "kind", "progress"}

// ReviewInput is the subset of a review the moderation policy reads.
type ReviewInput struct {
	Rating  int
	Title   string
	Content string
}

// ModerateReview routes a review to auto_approve, auto_reject or manual.
// minLength <= 0 uses DefaultMinReviewLength.
func ModerateReview(r ReviewInput, minLength int) model.Verdict {
	if minLength <= 0 {
		minLength = DefaultMinReviewLength
	}
	body := strings.ToLower(strings.TrimSpace(r.Title + " " + r.Content))
	if body == "" {
		return model.Verdict{Action: ActionManual, Confidence: 0.4, Reason: "Empty review body requires manual validation"}
	}

	for _, p := range spamPatterns {
		if p.MatchString(body) {
			return model.Verdict{Action: ActionAutoReject, Confidence: 0.92, Reason: "Contains spam or outbound link content"}
		}
	}

	if r.Rating >= 4 && utf8.RuneCountInString(body) > minLength && containsAny(body, positiveTerms) {
		return model.Verdict{Action: ActionAutoApprove, Confidence: 0.88, Reason: "Detailed positive feedback with no risky terms"}
	}

	if r.Rating <= 2 {
		return model.Verdict{Action: ActionManual, Confidence: 0.55, Reason: "Low-star review, keep for human moderation"}
	}

	return model.Verdict{Action: ActionManual, Confidence: 0.6, Reason: "Borderline sentiment, leaving for manual moderation"}
}

// ValidModerationAction reports whether a is a moderation action.
func ValidModerationAction(a string) bool {
	switch a {
	case ActionAutoApprove, ActionAutoReject, ActionManual:
		return true
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
