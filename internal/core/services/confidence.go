package services

import (
	"math"
	"strings"
)

// Phrases that raise or lower the confidence of an answer.
var (
	confidentPhrases = []string{
		"clearly states",
		"explicitly mentions",
		"directly addresses",
		"specifically outlines",
		"demonstrates",
	}
	uncertainPhrases = []string{
		"unclear",
		"may",
		"might",
		"possibly",
		"cannot determine",
		"insufficient information",
	}
)

// Confidence bounds.
const (
	minConfidence = 0.1
	maxConfidence = 0.9
)

// ScoreConfidence estimates how confident an answer reads, in [0.1, 0.9].
// Each confident phrase counts for and each hedging phrase against; an
// answer with neither scores 0.5.
func ScoreConfidence(answer string) float64 {
	text := strings.ToLower(answer)

	var confident, uncertain int
	for _, p := range confidentPhrases {
		if strings.Contains(text, p) {
			confident++
		}
	}
	for _, p := range uncertainPhrases {
		if strings.Contains(text, p) {
			uncertain++
		}
	}

	total := float64(len(confidentPhrases) + len(uncertainPhrases))
	score := (float64(confident-uncertain)/total + 1) / 2
	score = math.Max(minConfidence, math.Min(maxConfidence, score))
	return math.Round(score*100) / 100
}
