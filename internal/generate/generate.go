// Package generate produces the synthetic brake sensor dataset.
package generate

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/record"
)

// Params controls dataset size and reproducibility.
type Params struct {
	Samples     int
	Seed        int64
	MissingRate float64 // fraction of feature cells blanked after labelling
}

// #region distributions
type feature struct {
	dist     distuv.Rander
	lo, hi   float64
	weight   float64
	clipping bool
}

func sensors(src rand.Source) []feature {
	return []feature{
		{dist: distuv.Normal{Mu: 60, Sigma: 20, Src: src}, lo: 0, hi: 200, weight: 0.015, clipping: true},
		{dist: distuv.Normal{Mu: 5, Sigma: 2, Src: src}, lo: 0, hi: 10, weight: 0.25, clipping: true},
		{dist: distuv.Normal{Mu: 80, Sigma: 30, Src: src}, lo: -10, hi: 200, weight: 0.01, clipping: true},
		{dist: distuv.Normal{Mu: 8, Sigma: 2.5, Src: src}, lo: 0, hi: 15, weight: -0.4, clipping: true},
		{dist: distuv.Normal{Mu: 0.1, Sigma: 0.05, Src: src}, lo: 0, hi: 1, weight: 3.0, clipping: true},
		{dist: distuv.Uniform{Min: 0.2, Max: 1.0, Src: src}, weight: -1.5},
		{dist: distuv.Normal{Mu: 0.8, Sigma: 0.6, Src: src}, lo: 0, hi: 5, weight: 0.6, clipping: true},
	}
}

const noiseSigma = 0.5

// #endregion distributions

// #region synthetic
// Synthetic draws a labelled dataset. The same Params always yield the same dataset.
// Columns are drawn whole in schema order, then the noise column, from one seeded stream.
func Synthetic(p Params) (record.Dataset, error) {
	if p.Samples <= 0 {
		return record.Dataset{}, fault.Configf("n_samples must be positive, got %d", p.Samples)
	}
	if p.MissingRate < 0 || p.MissingRate >= 1 || math.IsNaN(p.MissingRate) {
		return record.Dataset{}, fault.Configf("missing_rate must be in [0,1), got %v", p.MissingRate)
	}

	src := rand.NewPCG(uint64(p.Seed), 0)
	feats := sensors(src)
	schema := record.BrakeSchema()

	recs := make([]record.Record, p.Samples)
	for i := range recs {
		recs[i].Values = make([]float64, len(feats))
	}
	for j, f := range feats {
		for i := range recs {
			v := f.dist.Rand()
			if f.clipping {
				v = clip(v, f.lo, f.hi)
			}
			recs[i].Values[j] = v
		}
	}

	noise := distuv.Normal{Mu: 0, Sigma: noiseSigma, Src: src}
	for i := range recs {
		score := noise.Rand()
		for j, f := range feats {
			score += f.weight * recs[i].Values[j]
		}
		if failureProbability(score) > 0.5 {
			recs[i].Label = 1
		}
	}

	if p.MissingRate > 0 {
		blank := rand.New(rand.NewPCG(uint64(p.Seed), 1))
		for i := range recs {
			for j := range recs[i].Values {
				if blank.Float64() < p.MissingRate {
					recs[i].Values[j] = math.NaN()
				}
			}
		}
	}

	return record.Dataset{Schema: schema, Records: recs}, nil
}

func failureProbability(score float64) float64 {
	return 1 / (1 + math.Exp(-score))
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion synthetic
