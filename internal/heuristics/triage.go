package heuristics

import (
	"strings"

	"github.com/ashita-ai/kensa/internal/model"
)

// Triage categories.
const (
	CategoryMedical = "medical"
	CategoryStray   = "stray"
	CategoryCrisis  = "crisis"
	CategoryNormal  = "normal"
)

var (
	medicalKeywords = []string{"bleeding", "collapsed", "poison", "seizure", "unresponsive", "hit by", "broken bone", "choking", "emergency", "trauma", "heatstroke"}
	strayKeywords   = []string{"stray", "found dog", "wandering", "lost dog", "unknown dog", "no collar", "microchip", "council"}
	crisisKeywords  = []string{"aggressive", "biting", "attacked", "lunging", "fight", "crisis", "sudden aggression", "panic", "reactive"}
)

// categoryRule is evaluated in slice order, which is also the tie-break order.
type categoryRule struct {
	category string
	keywords []string
	cap      float64
	reason   string
}

var triageRules = []categoryRule{
	{CategoryMedical, medicalKeywords, 0.95, "Matched medical emergency keywords"},
	{CategoryStray, strayKeywords, 0.90, "Matched stray/lost dog keywords"},
	{CategoryCrisis, crisisKeywords, 0.90, "Matched behaviour crisis keywords"},
}

func keywordScore(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// ClassifySituation scores free text against the medical, stray and crisis
// keyword sets.
func ClassifySituation(description string) model.Verdict {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return model.Verdict{Action: CategoryNormal, Confidence: 0.2, Reason: "No description provided"}
	}

	best, bestScore := -1, 0
	for i, r := range triageRules {
		if s := keywordScore(text, r.keywords); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return model.Verdict{Action: CategoryNormal, Confidence: 0.35, Reason: "No emergency keywords detected"}
	}

	r := triageRules[best]
	return model.Verdict{
		Action:     r.category,
		Confidence: min(0.5+0.1*float64(bestScore), r.cap),
		Reason:     r.reason,
		Details:    map[string]any{"matched_keywords": bestScore},
	}
}

// ValidTriageCategory reports whether c is one of the four triage labels.
func ValidTriageCategory(c string) bool {
	switch c {
	case CategoryMedical, CategoryStray, CategoryCrisis, CategoryNormal:
		return true
	}
	return false
}
