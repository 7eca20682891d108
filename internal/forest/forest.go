// Package forest implements a bagged random forest of binary Gini classification trees.
package forest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// Kind identifies a persisted forest.
const Kind = "random_forest"

// #region params
const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
	MaxFeaturesAll  = "all"

	ClassWeightNone     = "none"
	ClassWeightBalanced = "balanced"
)

type Params struct {
	NTrees          int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	ClassWeight     string
	Bootstrap       bool
	Seed            int64
	Workers         int // 0 means GOMAXPROCS
}

// Validate returns a config error for any out-of-range hyperparameter.
func (p Params) Validate() error {
	switch {
	case p.NTrees <= 0:
		return fault.Configf("n_estimators must be positive, got %d", p.NTrees)
	case p.MaxDepth < 0:
		return fault.Configf("max_depth must be >= 0, got %d", p.MaxDepth)
	case p.MinSamplesSplit < 2:
		return fault.Configf("min_samples_split must be >= 2, got %d", p.MinSamplesSplit)
	case p.MinSamplesLeaf < 1:
		return fault.Configf("min_samples_leaf must be >= 1, got %d", p.MinSamplesLeaf)
	case p.Workers < 0:
		return fault.Configf("workers must be >= 0, got %d", p.Workers)
	}
	switch p.MaxFeatures {
	case MaxFeaturesSqrt, MaxFeaturesLog2, MaxFeaturesAll:
	default:
		return fault.Configf("unknown max_features %q", p.MaxFeatures)
	}
	switch p.ClassWeight {
	case ClassWeightNone, ClassWeightBalanced:
	default:
		return fault.Configf("unknown class_weight %q", p.ClassWeight)
	}
	return nil
}

func (p Params) mtry(k int) int {
	var m int
	switch p.MaxFeatures {
	case MaxFeaturesSqrt:
		m = int(math.Sqrt(float64(k)))
	case MaxFeaturesLog2:
		m = int(math.Log2(float64(k)))
	default:
		m = k
	}
	return max(1, min(m, k))
}

// #endregion params

// #region forest
// Forest is a fitted ensemble. It is read-only after Fit and safe for concurrent use.
type Forest struct {
	Trees       []Tree    `json:"trees"`
	NFeatures   int       `json:"n_features"`
	Importances []float64 `json:"importances"`
}

func (f *Forest) Kind() string     { return Kind }
func (f *Forest) NumFeatures() int { return f.NFeatures }

// PredictProba returns the mean positive-class fraction over all trees.
func (f *Forest) PredictProba(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].leaf(x).Positive
	}
	return sum / float64(len(f.Trees))
}

// Predict returns 1 when PredictProba is at least 0.5.
func (f *Forest) Predict(x []float64) int {
	if f.PredictProba(x) >= 0.5 {
		return 1
	}
	return 0
}

// Check verifies internal consistency of a decoded forest.
func (f *Forest) Check() error {
	if len(f.Trees) == 0 || f.NFeatures <= 0 {
		return fault.Dataf("forest has %d trees and %d features", len(f.Trees), f.NFeatures)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fault.Dataf("tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= f.NFeatures || n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return fault.Dataf("tree %d node %d is malformed", t, i)
			}
		}
	}
	return nil
}

// #endregion forest

// #region fit
// Fit grows p.NTrees trees concurrently. Each tree draws from its own stream seeded by
// (p.Seed, tree index), so the result does not depend on scheduling or worker count.
func Fit(ctx context.Context, X [][]float64, y []int, p Params) (*Forest, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkInput(X, y); err != nil {
		return nil, err
	}
	k := len(X[0])

	classWeight := [2]float64{1, 1}
	if p.ClassWeight == ClassWeightBalanced {
		var counts [2]int
		for _, label := range y {
			counts[label]++
		}
		for c := range counts {
			if counts[c] > 0 {
				classWeight[c] = float64(len(y)) / (2 * float64(counts[c]))
			}
		}
	}

	workers := p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, p.NTrees)
	importances := make([][]float64, p.NTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(t+1)))
			b := newBuilder(X, y, p, classWeight, rng)
			trees[t] = b.grow()
			importances[t] = b.normalizedImportance()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	return &Forest{Trees: trees, NFeatures: k, Importances: averageImportance(importances, k)}, nil
}

func checkInput(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fault.Dataf("cannot fit on an empty dataset")
	}
	if len(X) != len(y) {
		return fault.Dataf("%d rows but %d labels", len(X), len(y))
	}
	k := len(X[0])
	if k == 0 {
		return fault.Dataf("rows have no features")
	}
	for i, row := range X {
		if len(row) != k {
			return fault.Dataf("row %d has %d features, want %d", i, len(row), k)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fault.Dataf("row %d feature %d is not finite", i, j)
			}
		}
		if y[i] != 0 && y[i] != 1 {
			return fault.Dataf("row %d label %d is not binary", i, y[i])
		}
	}
	return nil
}

func averageImportance(per [][]float64, k int) []float64 {
	out := make([]float64, k)
	for _, imp := range per {
		for j, v := range imp {
			out[j] += v
		}
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// #endregion fit
