package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		convention Convention
		want       Verdict
	}{
		{"outlier sentinel", -1, ConventionAnomalyScore, VerdictFraud},
		{"inlier sentinel", 1, ConventionAnomalyScore, VerdictNormal},
		{"other anomaly value", 0, ConventionAnomalyScore, VerdictNormal},
		{"probability above threshold", 0.51, ConventionProbability, VerdictFraud},
		{"probability at threshold", 0.5, ConventionProbability, VerdictNormal},
		{"probability zero", 0, ConventionProbability, VerdictNormal},
		{"probability one", 1, ConventionProbability, VerdictFraud},
		{"sentinel read as probability", -1, ConventionProbability, VerdictNormal},
		{"unknown convention", 0.99, Convention("RANK"), VerdictNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Label(tt.score, tt.convention))
		})
	}
}

func TestVerdictLabels(t *testing.T) {
	assert.Equal(t, "Fraud Transaction", string(VerdictFraud))
	assert.Equal(t, "Normal Transaction", string(VerdictNormal))
	assert.Equal(t, []string{"Fraud Transaction", "Normal Transaction"},
		Strings([]Verdict{VerdictFraud, VerdictNormal}))
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention("PROBABILITY")
	assert.NoError(t, err)
	assert.Equal(t, ConventionProbability, c)

	_, err = ParseConvention("probability")
	assert.Error(t, err)
}
