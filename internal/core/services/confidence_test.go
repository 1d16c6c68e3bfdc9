package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   float64
	}{
		{"neutral", "The policy covers encryption at rest.", 0.5},
		{"one confident phrase", "The document clearly states that keys rotate yearly.", 0.55},
		{"one hedge", "Rotation might happen yearly.", 0.45},
		{"confident beats hedge", "It clearly states and explicitly mentions rotation, though timing is unclear.", 0.55},
		{"case insensitive", "CLEARLY STATES the policy.", 0.55},
		{"empty", "", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreConfidence(tt.answer), 0.001)
		})
	}
}

func TestScoreConfidence_Bounds(t *testing.T) {
	hedged := "unclear, may, might, possibly, cannot determine, insufficient information"
	score := ScoreConfidence(hedged)
	assert.GreaterOrEqual(t, score, minConfidence)
	assert.LessOrEqual(t, score, maxConfidence)
	assert.InDelta(t, 0.23, score, 0.001)
}
