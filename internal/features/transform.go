// Package features fits and applies the imputation and scaling transform.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/record"
)

// #region options
const (
	StrategyMean         = "mean"
	StrategyMedian       = "median"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

type Options struct {
	Strategy  string
	FillValue float64 // used by StrategyConstant
	Scale     bool
}

// ValidStrategy reports whether s names a known imputation strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyMean, StrategyMedian, StrategyMostFrequent, StrategyConstant:
		return true
	}
	return false
}

// #endregion options

// #region transform
// Transform is a fitted imputation and scaling step. It is immutable after Fit or Unmarshal
// and safe for concurrent use.
type Transform struct {
	features []string
	strategy string
	fill     []float64
	scale    bool
	mean     []float64
	std      []float64
}

// Fit learns fill values (over observed values only) and scaling statistics from train.
func Fit(train record.Dataset, opts Options) (*Transform, error) {
	if !ValidStrategy(opts.Strategy) {
		return nil, fault.Configf("unknown impute strategy %q", opts.Strategy)
	}
	if opts.Strategy == StrategyConstant && (math.IsNaN(opts.FillValue) || math.IsInf(opts.FillValue, 0)) {
		return nil, fault.Configf("fill_value must be finite")
	}
	if err := train.Validate(); err != nil {
		return nil, err
	}
	if train.Len() == 0 {
		return nil, fault.Dataf("cannot fit a transform on an empty dataset")
	}

	k := len(train.Schema.Features)
	t := &Transform{
		features: slices.Clone(train.Schema.Features),
		strategy: opts.Strategy,
		fill:     make([]float64, k),
		scale:    opts.Scale,
	}
	if opts.Scale {
		t.mean = make([]float64, k)
		t.std = make([]float64, k)
	}

	for j, name := range t.features {
		col := train.Column(j)
		fill, err := fillValue(col, opts)
		if err != nil {
			return nil, fmt.Errorf("fit %s: %w", name, err)
		}
		t.fill[j] = fill
		if !opts.Scale {
			continue
		}
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = fill
			}
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		t.mean[j], t.std[j] = mean, std
	}
	return t, nil
}

// Features returns the fitted feature names in order.
func (t *Transform) Features() []string {
	return slices.Clone(t.features)
}

func (t *Transform) NumFeatures() int {
	return len(t.features)
}

// value is the one per-cell function shared by the batch and single-record paths.
func (t *Transform) value(j int, v float64) float64 {
	if math.IsNaN(v) {
		v = t.fill[j]
	}
	if t.scale {
		v = (v - t.mean[j]) / t.std[j]
	}
	return v
}

// Apply transforms ds without modifying it. Columns are matched by name; a fitted feature
// missing from ds is a data error.
func (t *Transform) Apply(ds record.Dataset) (record.Dataset, error) {
	pos := make([]int, len(t.features))
	for j, name := range t.features {
		p := ds.Schema.Index(name)
		if p < 0 {
			return record.Dataset{}, fault.Dataf("dataset lacks feature %q", name)
		}
		pos[j] = p
	}

	out := record.Dataset{
		Schema:  record.Schema{Features: slices.Clone(t.features), Label: ds.Schema.Label},
		Records: make([]record.Record, ds.Len()),
	}
	for i, r := range ds.Records {
		if len(r.Values) != len(ds.Schema.Features) {
			return record.Dataset{}, fault.Dataf("record %d has %d values, schema has %d features", i, len(r.Values), len(ds.Schema.Features))
		}
		vals := make([]float64, len(t.features))
		for j, p := range pos {
			vals[j] = t.value(j, r.Values[p])
		}
		out.Records[i] = record.Record{Values: vals, Label: r.Label}
	}
	return out, nil
}

// Vector transforms a single named record, as received at inference.
func (t *Transform) Vector(fields map[string]float64) ([]float64, error) {
	out := make([]float64, len(t.features))
	for j, name := range t.features {
		v, ok := fields[name]
		if !ok {
			return nil, fault.Requestf("missing feature %q", name)
		}
		out[j] = t.value(j, v)
	}
	return out, nil
}

// #endregion transform

// #region statistics
func fillValue(col []float64, opts Options) (float64, error) {
	if opts.Strategy == StrategyConstant {
		return opts.FillValue, nil
	}
	observed := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	if len(observed) == 0 {
		return 0, fault.Dataf("no observed values to impute from")
	}

	switch opts.Strategy {
	case StrategyMean:
		return stat.Mean(observed, nil), nil
	case StrategyMedian:
		slices.Sort(observed)
		n := len(observed)
		if n%2 == 1 {
			return observed[n/2], nil
		}
		return (observed[n/2-1] + observed[n/2]) / 2, nil
	default:
		return smallestMode(observed), nil
	}
}

// smallestMode returns the most frequent value, preferring the smallest on ties.
func smallestMode(x []float64) float64 {
	slices.Sort(x)
	best, bestCount := x[0], 0
	for i := 0; i < len(x); {
		j := i
		for j < len(x) && x[j] == x[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = x[i], j-i
		}
		i = j
	}
	return best
}

// #endregion statistics

// #region wire
type transformJSON struct {
	Features []string  `json:"features"`
	Strategy string    `json:"strategy"`
	Fill     []float64 `json:"fill"`
	Scale    bool      `json:"scale"`
	Mean     []float64 `json:"mean,omitempty"`
	Std      []float64 `json:"std,omitempty"`
}

func (t *Transform) MarshalJSON() ([]byte, error) {
	return json.Marshal(transformJSON{
		Features: t.features,
		Strategy: t.strategy,
		Fill:     t.fill,
		Scale:    t.scale,
		Mean:     t.mean,
		Std:      t.std,
	})
}

// Unmarshal decodes a persisted transform and checks its shape.
func Unmarshal(data []byte) (*Transform, error) {
	var w transformJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode transform: %w", err)
	}
	k := len(w.Features)
	if k == 0 || len(w.Fill) != k {
		return nil, fault.Dataf("transform has %d features and %d fill values", k, len(w.Fill))
	}
	if w.Scale && (len(w.Mean) != k || len(w.Std) != k) {
		return nil, fault.Dataf("transform scaling statistics do not match %d features", k)
	}
	return &Transform{
		features: w.Features,
		strategy: w.Strategy,
		fill:     w.Fill,
		scale:    w.Scale,
		mean:     w.Mean,
		std:      w.Std,
	}, nil
}

// #endregion wire
