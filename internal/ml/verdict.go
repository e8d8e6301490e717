package ml

import (
	"fmt"

	"fraud-detector/internal/common"
)

// Convention tells how a model's raw score is read.
type Convention string

const (
	// ConventionAnomalyScore scores are OutlierSentinel or InlierSentinel.
	ConventionAnomalyScore Convention = "ANOMALY_SCORE"
	// ConventionProbability scores are fraud probabilities in [0,1].
	ConventionProbability Convention = "PROBABILITY"
)

const (
	OutlierSentinel = -1.0
	InlierSentinel  = 1.0

	// FraudProbabilityThreshold is exclusive: exactly 0.5 is normal.
	FraudProbabilityThreshold = 0.5
)

func ParseConvention(s string) (Convention, error) {
	switch c := Convention(s); c {
	case ConventionAnomalyScore, ConventionProbability:
		return c, nil
	default:
		return "", fmt.Errorf("unknown score convention %q", s)
	}
}

// Verdict is the label written to the prediction column.
type Verdict string

const (
	VerdictFraud  Verdict = common.LabelFraud
	VerdictNormal Verdict = common.LabelNormal
)

// Label maps a raw score to a verdict under the given convention.
func Label(score float64, convention Convention) Verdict {
	switch convention {
	case ConventionAnomalyScore:
		if score == OutlierSentinel {
			return VerdictFraud
		}
	case ConventionProbability:
		if score > FraudProbabilityThreshold {
			return VerdictFraud
		}
	}
	return VerdictNormal
}

// Strings converts verdicts for a table column.
func Strings(verdicts []Verdict) []string {
	out := make([]string, len(verdicts))
	for i, v := range verdicts {
		out[i] = string(v)
	}
	return out
}
