// Package bundle pairs a run's model with its fitted transform. Evaluation and serving both
// score through a Bundle, so a record gets the same prediction on either path.
package bundle

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/features"
	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// Bundle is read-only after Load and safe for concurrent use.
type Bundle struct {
	RunID            tracking.RunID
	Model            model.Classifier
	Transform        *features.Transform
	ModelVersion     int64
	TransformVersion int64
}

// Load reads runs/<id>/model and runs/<id>/transform. A missing artifact is a not-found fault.
func Load(ctx context.Context, store artifact.Store, id tracking.RunID) (*Bundle, error) {
	ma, err := store.Get(ctx, artifact.RunKey(id.String(), artifact.RunModel))
	if err != nil {
		return nil, fmt.Errorf("load model for run %s: %w", id, err)
	}
	m, err := model.Decode(ma.Data)
	if err != nil {
		return nil, fmt.Errorf("load model for run %s: %w", id, err)
	}

	ta, err := store.Get(ctx, artifact.RunKey(id.String(), artifact.RunTransform))
	if err != nil {
		return nil, fmt.Errorf("load transform for run %s: %w", id, err)
	}
	tr, err := features.Unmarshal(ta.Data)
	if err != nil {
		return nil, fmt.Errorf("load transform for run %s: %w", id, err)
	}

	return New(id, m, tr, ma.Version, ta.Version)
}

// New checks that m and tr agree on the number of features.
func New(id tracking.RunID, m model.Classifier, tr *features.Transform, modelVersion, transformVersion int64) (*Bundle, error) {
	if m.NumFeatures() != tr.NumFeatures() {
		return nil, fault.Dataf("run %s: model expects %d features, transform produces %d", id, m.NumFeatures(), tr.NumFeatures())
	}
	return &Bundle{RunID: id, Model: m, Transform: tr, ModelVersion: modelVersion, TransformVersion: transformVersion}, nil
}

// Features returns the raw feature names the bundle expects, in order.
func (b *Bundle) Features() []string {
	return b.Transform.Features()
}

// Predict scores one named raw record.
func (b *Bundle) Predict(fields map[string]float64) (model.Prediction, error) {
	x, err := b.Transform.Vector(fields)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Score(b.Model, x), nil
}

// Scored is one row of a batch score.
type Scored struct {
	Prediction model.Prediction
	RawProba   float64 // unrounded, for ranking metrics; valid when Prediction.HasProbability
}

// ScoreDataset transforms ds and scores every record in order.
func (b *Bundle) ScoreDataset(ds record.Dataset) ([]Scored, error) {
	fx, err := b.Transform.Apply(ds)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, fx.Len())
	for i, r := range fx.Records {
		out[i].Prediction = model.Score(b.Model, r.Values)
		if p, ok := model.Probability(b.Model, r.Values); ok {
			out[i].RawProba = p
		}
	}
	return out, nil
}
