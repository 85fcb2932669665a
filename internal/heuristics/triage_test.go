package heuristics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kensa/internal/heuristics"
)

func TestClassifySituation_Medical(t *testing.T) {
	v := heuristics.ClassifySituation("my dog is bleeding and unresponsive")
	assert.Equal(t, heuristics.CategoryMedical, v.Action)
	assert.GreaterOrEqual(t, v.Confidence, 0.7)
	assert.Equal(t, "Matched medical emergency keywords", v.Reason)
}

func TestClassifySituation_NoKeywords(t *testing.T) {
	v := heuristics.ClassifySituation("great walk today")
	assert.Equal(t, heuristics.CategoryNormal, v.Action)
	assert.Equal(t, 0.35, v.Confidence)
}

func TestClassifySituation_Empty(t *testing.T) {
	v := heuristics.ClassifySituation("   ")
	assert.Equal(t, heuristics.CategoryNormal, v.Action)
	assert.Equal(t, 0.2, v.Confidence)
	assert.Equal(t, "No description provided", v.Reason)
}

func TestClassifySituation_TieBreakOrder(t *testing.T) {
	// one medical keyword, one stray keyword
	v := heuristics.ClassifySituation("found a stray that is choking")
	assert.Equal(t, heuristics.CategoryMedical, v.Action)

	// one stray keyword, one crisis keyword
	v = heuristics.ClassifySituation("lost dog started lunging")
	assert.Equal(t, heuristics.CategoryStray, v.Action)
}

func TestClassifySituation_HighestCountWins(t *testing.T) {
	v := heuristics.ClassifySituation("aggressive and biting, the fight started in the emergency room")
	assert.Equal(t, heuristics.CategoryCrisis, v.Action)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
}

func TestClassifySituation_ConfidenceCaps(t *testing.T) {
	v := heuristics.ClassifySituation("bleeding collapsed poison seizure unresponsive hit by a car, choking, trauma")
	assert.Equal(t, heuristics.CategoryMedical, v.Action)
	assert.Equal(t, 0.95, v.Confidence)

	v = heuristics.ClassifySituation("stray wandering lost dog, unknown dog, no collar, no microchip, called council")
	assert.Equal(t, heuristics.CategoryStray, v.Action)
	assert.Equal(t, 0.9, v.Confidence)
}

func TestClassifySituation_CaseInsensitive(t *testing.T) {
	v := heuristics.ClassifySituation("SEIZURE")
	assert.Equal(t, heuristics.CategoryMedical, v.Action)
	assert.InDelta(t, 0.6, v.Confidence, 1e-9)
}
