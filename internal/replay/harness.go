// Package replay checks train/serve parity by replaying recorded test predictions through a
// predictor, either a live server or a bundle loaded in-process.
package replay

import (
	"context"

	"github.com/danielpatrickdp/brakeguard/internal/bundle"
	"github.com/danielpatrickdp/brakeguard/internal/model"
)

// #region types

// Predictor answers one named raw record. *client.Client satisfies it directly.
type Predictor interface {
	Predict(ctx context.Context, fields map[string]float64) (model.Prediction, error)
}

// BundlePredictor scores in-process.
type BundlePredictor struct {
	Bundle *bundle.Bundle
}

func (p BundlePredictor) Predict(_ context.Context, fields map[string]float64) (model.Prediction, error) {
	return p.Bundle.Predict(fields)
}

// ReplayResult is the outcome of replaying one fixture row.
type ReplayResult struct {
	Row      int
	Action   string // "match" | "mismatch" | "error"
	Expected model.Prediction
	Got      model.Prediction
	Err      error
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalRows  int
	Matches    int
	Mismatches int
	Errors     int
}

// OK reports whether every row replayed to its expected prediction.
func (s ReplaySummary) OK() bool {
	return s.Mismatches == 0 && s.Errors == 0
}

// #endregion types

// #region replay

// Replay sends every fixture row to p in order. It stops early only if ctx is cancelled.
func Replay(ctx context.Context, p Predictor, f *Fixture) []ReplayResult {
	results := make([]ReplayResult, 0, len(f.Rows))
	for _, row := range f.Rows {
		if ctx.Err() != nil {
			break
		}
		res := ReplayResult{Row: row.Row, Expected: row.Expected()}
		got, err := p.Predict(ctx, row.Fields)
		switch {
		case err != nil:
			res.Action = "error"
			res.Err = err
		case got != res.Expected:
			res.Action = "mismatch"
			res.Got = got
		default:
			res.Action = "match"
			res.Got = got
		}
		results = append(results, res)
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalRows: len(results)}
	for _, r := range results {
		switch r.Action {
		case "match":
			s.Matches++
		case "mismatch":
			s.Mismatches++
		case "error":
			s.Errors++
		}
	}
	return s
}

// #endregion replay
