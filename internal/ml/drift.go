package ml

import (
	"math"
	"sort"

	"fraud-detector/internal/features"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	psiModerate    = 0.1
	psiSignificant = 0.25
	psiEpsilon     = 1e-4
)

// FeatureDistribution summarises one feature of the training data.
type FeatureDistribution struct {
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	Edges       []float64 `json:"edges"`
	Proportions []float64 `json:"proportions"`
	Count       int       `json:"count"`
}

// Baseline holds the training distribution of every feature.
type Baseline struct {
	Schema   features.Schema                 `json:"schema"`
	Features map[string]*FeatureDistribution `json:"features"`
}

// FeatureDrift compares one feature of a batch against the baseline.
type FeatureDrift struct {
	Name      string  `json:"name"`
	PSI       float64 `json:"psi"`
	MeanShift float64 `json:"mean_shift"`
	Severity  string  `json:"severity"`
}

type DriftReport struct {
	Features []FeatureDrift `json:"features"`
	Drifted  []string       `json:"drifted"`
}

// NewBaseline computes decile bins per feature from a training frame.
func NewBaseline(frame *features.Frame) *Baseline {
	b := &Baseline{
		Schema:   append(features.Schema(nil), frame.Schema...),
		Features: make(map[string]*FeatureDistribution, len(frame.Schema)),
	}

	for _, name := range frame.Schema {
		values, _ := frame.Column(name)
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		dist := &FeatureDistribution{Count: len(values)}
		if len(values) > 0 {
			dist.Mean, dist.StdDev = stat.MeanStdDev(values, nil)
			if math.IsNaN(dist.StdDev) {
				dist.StdDev = 0
			}
			dist.Edges = decileEdges(sorted)
		}
		dist.Proportions = proportions(values, dist.Edges)
		b.Features[name] = dist
	}

	return b
}

func decileEdges(sorted []float64) []float64 {
	var edges []float64
	for q := 1; q < 10; q++ {
		e := stat.Quantile(float64(q)/10, stat.Empirical, sorted, nil)
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

func proportions(values, edges []float64) []float64 {
	counts := make([]float64, len(edges)+1)
	for _, v := range values {
		counts[sort.SearchFloat64s(edges, v)]++
	}
	if len(values) > 0 {
		for i := range counts {
			counts[i] /= float64(len(values))
		}
	}
	return counts
}

// Compare computes the population stability index of each feature in frame.
// Features not in the baseline are skipped.
func (b *Baseline) Compare(frame *features.Frame) DriftReport {
	var report DriftReport

	for _, name := range frame.Schema {
		base, ok := b.Features[name]
		if !ok || base.Count == 0 {
			continue
		}
		values, _ := frame.Column(name)
		if len(values) == 0 {
			continue
		}

		actual := proportions(values, base.Edges)
		var psi float64
		for i := range actual {
			e := math.Max(base.Proportions[i], psiEpsilon)
			a := math.Max(actual[i], psiEpsilon)
			psi += (a - e) * math.Log(a/e)
		}

		fd := FeatureDrift{Name: name, PSI: psi, Severity: severity(psi)}
		if base.StdDev > 0 {
			fd.MeanShift = (stat.Mean(values, nil) - base.Mean) / base.StdDev
		}
		report.Features = append(report.Features, fd)

		if psi >= psiSignificant {
			report.Drifted = append(report.Drifted, name)
			log.Warn().
				Str("feature", name).
				Float64("psi", psi).
				Float64("mean_shift", fd.MeanShift).
				Msg("feature distribution drifted from training data")
		}
	}

	return report
}

func severity(psi float64) string {
	switch {
	case psi >= psiSignificant:
		return "significant"
	case psi >= psiModerate:
		return "moderate"
	default:
		return "none"
	}
}
