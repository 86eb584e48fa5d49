package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ForestConfig holds the isolation forest hyperparameters.
type ForestConfig struct {
	NumTrees      int
	SubsampleSize int
	Seed          int64
}

// DefaultForestConfig returns 100 trees over subsamples of 256 with seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{NumTrees: 100, SubsampleSize: 256, Seed: 42}
}

type isolationNode struct {
	left, right *isolationNode
	split       float64
	size        int
	leaf        bool
}

// IsolationForest is a fitted, read-only isolation forest over a single
// numeric feature. It is safe for concurrent scoring once returned by Fit.
type IsolationForest struct {
	trees      []*isolationNode
	sampleSize int
	norm       float64
}

// Fit grows the forest over samples. The random source is used only here,
// so scoring is deterministic for a given seed and training set.
func Fit(samples []float64, cfg ForestConfig) (*IsolationForest, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot fit isolation forest on empty data")
	}
	if cfg.NumTrees <= 0 {
		return nil, fmt.Errorf("num_trees must be positive, got %d", cfg.NumTrees)
	}
	if cfg.SubsampleSize <= 0 {
		return nil, fmt.Errorf("subsample_size must be positive, got %d", cfg.SubsampleSize)
	}

	psi := min(cfg.SubsampleSize, len(samples))
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	f := &IsolationForest{
		trees:      make([]*isolationNode, 0, cfg.NumTrees),
		sampleSize: psi,
		norm:       averagePathLength(psi),
	}
	for i := 0; i < cfg.NumTrees; i++ {
		f.trees = append(f.trees, grow(subsample(samples, psi, rng), 0, maxDepth, rng))
	}
	return f, nil
}

// subsample draws psi samples without replacement.
func subsample(data []float64, psi int, rng *rand.Rand) []float64 {
	if len(data) <= psi {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
	out := make([]float64, psi)
	for i, idx := range rng.Perm(len(data))[:psi] {
		out[i] = data[idx]
	}
	return out
}

func grow(data []float64, depth, maxDepth int, rng *rand.Rand) *isolationNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &isolationNode{size: len(data), leaf: true}
	}

	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &isolationNode{size: len(data), leaf: true}
	}

	split := lo + rng.Float64()*(hi-lo)
	left := make([]float64, 0, len(data))
	right := make([]float64, 0, len(data))
	for _, v := range data {
		if v <= split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &isolationNode{
		left:  grow(left, depth+1, maxDepth, rng),
		right: grow(right, depth+1, maxDepth, rng),
		split: split,
		size:  len(data),
	}
}

func (n *isolationNode) pathLength(x float64) float64 {
	depth := 0.0
	for !n.leaf {
		if x <= n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// AnomalyScore returns 2^(-E[h(x)]/c(psi)) in (0, 1]; values near 1 are
// anomalous. A degenerate forest (psi of 1) scores 0.5 everywhere.
func (f *IsolationForest) AnomalyScore(x float64) float64 {
	if f.norm == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += t.pathLength(x)
	}
	return math.Pow(2, -(total/float64(len(f.trees)))/f.norm)
}

// DecisionFunction returns 0.5 - AnomalyScore(x). Negative values lie
// outside the learned boundary, lower is more anomalous.
func (f *IsolationForest) DecisionFunction(x float64) float64 {
	return 0.5 - f.AnomalyScore(x)
}

// NumTrees reports the forest size.
func (f *IsolationForest) NumTrees() int {
	return len(f.trees)
}

// SampleSize reports the per-tree subsample size psi.
func (f *IsolationForest) SampleSize() int {
	return f.sampleSize
}

// averagePathLength is c(n), the mean unsuccessful-search path length of a
// binary search tree with n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

func harmonic(n int) float64 {
	h := 0.0
	for i := 1; i <= n; i++ {
		h += 1.0 / float64(i)
	}
	return h
}
