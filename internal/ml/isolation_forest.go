package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649015329

// IForestConfig controls isolation forest training.
type IForestConfig struct {
	NumTrees      int     `json:"num_trees"`
	SampleSize    int     `json:"sample_size"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`
}

func DefaultIForestConfig() IForestConfig {
	return IForestConfig{
		NumTrees:      500,
		SampleSize:    256,
		Contamination: 0.005,
		Seed:          42,
	}
}

type iNode struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

type iTree struct {
	Nodes []iNode `json:"nodes"`
}

func (t *iTree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// IsolationForest is an unsupervised outlier detector. Score returns
// OutlierSentinel for the most isolated fraction of the training data
// (the contamination) and InlierSentinel otherwise.
type IsolationForest struct {
	Config      IForestConfig `json:"config"`
	Trees       []iTree       `json:"trees"`
	SampleSize  int           `json:"sample_size"`
	NumFeatures int           `json:"num_features"`
	Threshold   float64       `json:"threshold"`
}

// FitIsolationForest trains a forest on rows. Training is deterministic for
// a given config seed.
func FitIsolationForest(rows [][]float64, cfg IForestConfig) (*IsolationForest, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("isolation forest needs at least 2 rows, got %d", len(rows))
	}
	if cfg.NumTrees <= 0 {
		return nil, fmt.Errorf("number of trees must be positive, got %d", cfg.NumTrees)
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %f", cfg.Contamination)
	}

	nf := len(rows[0])
	for i, r := range rows {
		if len(r) != nf {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(r), nf)
		}
	}

	psi := cfg.SampleSize
	if psi <= 0 || psi > len(rows) {
		psi = len(rows)
	}
	if psi < 2 {
		psi = 2
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	f := &IsolationForest{
		Config:      cfg,
		Trees:       make([]iTree, cfg.NumTrees),
		SampleSize:  psi,
		NumFeatures: nf,
	}

	for t := 0; t < cfg.NumTrees; t++ {
		sample := rng.Perm(len(rows))[:psi]
		b := &treeBuilder{rows: rows, rng: rng, maxDepth: maxDepth, numFeatures: nf}
		b.build(sample, 0)
		f.Trees[t] = iTree{Nodes: b.nodes}
	}

	scores := f.anomalyScores(context.Background(), rows)
	sort.Float64s(scores)
	f.Threshold = stat.Quantile(1-cfg.Contamination, stat.Empirical, scores, nil)

	log.Info().
		Int("trees", cfg.NumTrees).
		Int("sample_size", psi).
		Int("rows", len(rows)).
		Float64("contamination", cfg.Contamination).
		Float64("threshold", f.Threshold).
		Msg("isolation forest trained")

	return f, nil
}

type treeBuilder struct {
	rows        [][]float64
	rng         *rand.Rand
	maxDepth    int
	numFeatures int
	nodes       []iNode
}

func (b *treeBuilder) build(idx []int, depth int) int {
	node := len(b.nodes)
	b.nodes = append(b.nodes, iNode{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return node
	}

	for _, feat := range b.rng.Perm(b.numFeatures) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.rows[i][feat]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if !(hi > lo) {
			continue
		}

		split := lo + b.rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if b.rows[i][feat] < split {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}

		l := b.build(left, depth+1)
		r := b.build(right, depth+1)
		b.nodes[node].Feature = feat
		b.nodes[node].Split = split
		b.nodes[node].Left = l
		b.nodes[node].Right = r
		return node
	}

	// every feature is constant in this partition
	return node
}

// AnomalyScore returns s(x) in (0,1]; higher is more anomalous.
func (f *IsolationForest) AnomalyScore(x []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

func (f *IsolationForest) anomalyScores(ctx context.Context, rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	workers := runtime.NumCPU()
	if workers > len(rows) {
		workers = len(rows)
	}
	chunk := (len(rows) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(rows))
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return
				}
				out[i] = f.AnomalyScore(rows[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

func (f *IsolationForest) label(s float64) float64 {
	if s > f.Threshold {
		return OutlierSentinel
	}
	return InlierSentinel
}

// Score implements Scorer.
func (f *IsolationForest) Score(ctx context.Context, x []float64) (float64, error) {
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", f.NumFeatures, len(x))
	}
	return f.label(f.AnomalyScore(x)), nil
}

// ScoreBatch implements BatchScorer.
func (f *IsolationForest) ScoreBatch(ctx context.Context, rows [][]float64) ([]float64, error) {
	for i, r := range rows {
		if len(r) != f.NumFeatures {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, f.NumFeatures, len(r))
		}
	}
	if len(rows) == 0 {
		return []float64{}, nil
	}

	scores := f.anomalyScores(ctx, rows)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, s := range scores {
		scores[i] = f.label(s)
	}
	return scores, nil
}

func (f *IsolationForest) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

func UnmarshalIsolationForest(data []byte) (*IsolationForest, error) {
	var f IsolationForest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode isolation forest: %w", err)
	}
	if len(f.Trees) == 0 || f.SampleSize < 2 {
		return nil, fmt.Errorf("isolation forest payload is empty")
	}
	if f.NumFeatures <= 0 {
		return nil, fmt.Errorf("isolation forest has invalid feature count %d", f.NumFeatures)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NumFeatures); err != nil {
			return nil, fmt.Errorf("isolation forest tree %d: %w", i, err)
		}
	}
	return &f, nil
}

// validate checks the node links pathLength follows. Children always sit
// after their parent, so a valid tree cannot loop.
func (t *iTree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("no nodes")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 {
			continue
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has children %d/%d outside (%d, %d)", i, n.Left, n.Right, i, len(t.Nodes))
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, numFeatures)
		}
	}
	return nil
}
