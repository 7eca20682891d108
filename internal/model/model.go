// Package model defines the classifier contract shared by training, evaluation and serving,
// and the persisted envelope models travel in.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/forest"
)

// #region contract
// Classifier maps a transformed feature vector to a label in {0,1}.
type Classifier interface {
	Predict(x []float64) int
	NumFeatures() int
	Kind() string
}

// ProbabilityEstimator is implemented by classifiers that expose P(class 1).
type ProbabilityEstimator interface {
	PredictProba(x []float64) float64
}

// Probability returns P(class 1) when c can estimate it.
func Probability(c Classifier, x []float64) (float64, bool) {
	pe, ok := c.(ProbabilityEstimator)
	if !ok {
		return 0, false
	}
	return pe.PredictProba(x), true
}

// Prediction is one scored record.
type Prediction struct {
	Label          int
	Probability    float64 // rounded, valid only when HasProbability
	HasProbability bool
}

// Score predicts x and rounds the probability for reporting.
func Score(c Classifier, x []float64) Prediction {
	p := Prediction{Label: c.Predict(x)}
	if prob, ok := Probability(c, x); ok {
		p.Probability = RoundProbability(prob)
		p.HasProbability = true
	}
	return p
}

// RoundProbability rounds half away from zero to four decimal places.
func RoundProbability(p float64) float64 {
	return decimal.NewFromFloat(p).Round(4).InexactFloat64()
}

// #endregion contract

// #region envelope
type envelope struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// Encode serializes c with its kind so Decode can restore the concrete type.
func Encode(c Classifier) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Kind(), err)
	}
	return json.Marshal(envelope{Kind: c.Kind(), Model: body})
}

// Decode restores a classifier written by Encode.
func Decode(data []byte) (Classifier, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fault.Dataf("decode model envelope: %w", err)
	}
	switch env.Kind {
	case forest.Kind:
		var f forest.Forest
		if err := json.Unmarshal(env.Model, &f); err != nil {
			return nil, fault.Dataf("decode %s: %w", env.Kind, err)
		}
		if err := f.Check(); err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, fault.Dataf("unknown model kind %q", env.Kind)
	}
}

// #endregion envelope
