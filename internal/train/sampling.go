package train

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Split holds the row indices of a train/test partition.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit puts testFraction of each class in the test partition.
// Every class with at least two rows keeps one row on each side.
func StratifiedSplit(labels []bool, testFraction float64, seed int64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("test fraction must be in (0, 1), got %f", testFraction)
	}

	rng := rand.New(rand.NewSource(seed))
	var pos, neg []int
	for i, l := range labels {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	var s Split
	for _, class := range [][]int{neg, pos} {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })

		nTest := int(float64(len(class))*testFraction + 0.5)
		if len(class) >= 2 {
			nTest = min(max(nTest, 1), len(class)-1)
		}
		s.Test = append(s.Test, class[:nTest]...)
		s.Train = append(s.Train, class[nTest:]...)
	}

	sort.Ints(s.Train)
	sort.Ints(s.Test)
	return s, nil
}

// SMOTE oversamples the minority class until both classes have the same
// size. Each synthetic row lies on the segment between a minority row and one
// of its k nearest minority neighbours. The inputs are not modified; the
// returned rows start with the originals.
func SMOTE(rows [][]float64, labels []bool, k int, seed int64) ([][]float64, []bool, error) {
	if len(rows) != len(labels) {
		return nil, nil, fmt.Errorf("%d rows but %d labels", len(rows), len(labels))
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}

	var minority, majority []int
	var pos, neg []int
	for i, l := range labels {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	minorityLabel := true
	minority, majority = pos, neg
	if len(pos) > len(neg) {
		minorityLabel = false
		minority, majority = neg, pos
	}

	outRows := append([][]float64(nil), rows...)
	outLabels := append([]bool(nil), labels...)

	need := len(majority) - len(minority)
	if need == 0 {
		return outRows, outLabels, nil
	}
	if len(minority) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 minority rows to oversample, got %d", len(minority))
	}
	k = min(k, len(minority)-1)

	neighbours := nearestNeighbours(rows, minority, k)
	rng := rand.New(rand.NewSource(seed))

	for n := 0; n < need; n++ {
		i := rng.Intn(len(minority))
		base := rows[minority[i]]
		nb := rows[neighbours[i][rng.Intn(k)]]
		gap := rng.Float64()

		// base + gap*(nb-base)
		synth := make([]float64, len(base))
		floats.SubTo(synth, nb, base)
		floats.Scale(gap, synth)
		floats.Add(synth, base)

		outRows = append(outRows, synth)
		outLabels = append(outLabels, minorityLabel)
	}

	return outRows, outLabels, nil
}

// nearestNeighbours returns, for each member of idx, the row indices of its k
// nearest other members.
func nearestNeighbours(rows [][]float64, idx []int, k int) [][]int {
	type cand struct {
		row  int
		dist float64
	}

	out := make([][]int, len(idx))
	cands := make([]cand, 0, len(idx))
	for a, i := range idx {
		cands = cands[:0]
		for b, j := range idx {
			if a == b {
				continue
			}
			cands = append(cands, cand{row: j, dist: floats.Distance(rows[i], rows[j], 2)})
		}
		sort.Slice(cands, func(x, y int) bool {
			if cands[x].dist != cands[y].dist {
				return cands[x].dist < cands[y].dist
			}
			return cands[x].row < cands[y].row
		})

		out[a] = make([]int, k)
		for n := 0; n < k; n++ {
			out[a][n] = cands[n].row
		}
	}
	return out
}
