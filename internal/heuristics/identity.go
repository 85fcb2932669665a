package heuristics

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ashita-ai/kensa/internal/model"
)

// Identity actions.
const (
	ActionVerified     = "verified"
	ActionManualReview = "manual_review"
)

// ActiveStatus is the only registry status that verifies an identity.
const ActiveStatus = "Active"

// IdentityInput is what the identity policy needs from a registry lookup.
type IdentityInput struct {
	// Record is nil when the registry returned nothing usable.
	Record *model.RegistryRecord
	// LookupFailed is set for transport errors and HTTP statuses >= 400.
	LookupFailed bool
	ClaimedName  string
}

// IdentityVerdict is the identity policy outcome.
type IdentityVerdict struct {
	model.Verdict
	Verified    bool
	Similarity  float64
	MatchedName string
	// FallbackReason is empty when Verified.
	FallbackReason model.FallbackReason
}

// EvaluateIdentity decides verification from the registry status alone. Name
// similarity is computed for audit and confidence and never changes Verified.
func EvaluateIdentity(in IdentityInput) IdentityVerdict {
	var matched, status string
	if in.Record != nil {
		matched = in.Record.DisplayName()
		status = in.Record.Status
	}
	sim := NameSimilarity(in.ClaimedName, matched)

	if in.Record != nil && status == ActiveStatus {
		return IdentityVerdict{
			Verdict: model.Verdict{
				Action:     ActionVerified,
				Confidence: model.ClampConfidence(0.8 + 0.2*sim),
				Reason:     "Registry status is Active",
			},
			Verified:    true,
			Similarity:  sim,
			MatchedName: matched,
		}
	}

	v := IdentityVerdict{Similarity: sim, MatchedName: matched}
	switch {
	case in.Record == nil || in.LookupFailed:
		v.FallbackReason = model.ReasonIdentityError
		v.Verdict = model.Verdict{Action: ActionManualReview, Confidence: 0.5, Reason: "Registry lookup failed or returned no record"}
	case status != "":
		v.FallbackReason = model.ReasonIdentityInactive
		v.Verdict = model.Verdict{Action: ActionManualReview, Confidence: 0.7, Reason: fmt.Sprintf("Registry status is %s", status)}
	default:
		v.FallbackReason = model.ReasonIdentityManualReview
		v.Verdict = model.Verdict{Action: ActionManualReview, Confidence: 0.5, Reason: "Registry record has no status"}
	}
	return v
}

var foldDiacritics = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases s, folds diacritics, replaces every
// non-alphanumeric rune with a space and collapses whitespace.
func NormalizeName(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}

// NameSimilarity returns the token-overlap ratio of the normalized names,
// |A ∩ B| / max(|A|, |B|), or 1 when they normalize to the same non-empty
// string. The result is symmetric, in [0,1], and rounded to two decimals.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ta, tb := tokenSet(na), tokenSet(nb)
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	score := float64(inter) / float64(max(len(ta), len(tb)))
	return math.Round(score*100) / 100
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}
