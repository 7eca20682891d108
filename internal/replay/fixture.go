package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/brakeguard/internal/eval"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a parity fixture: raw test rows and what the
// evaluator predicted for them.
type Fixture struct {
	Description string         `json:"description"`
	RunID       tracking.RunID `json:"run_id"`
	Features    []string       `json:"features"`
	Rows        []FixtureRow   `json:"rows"`
}

// FixtureRow is one raw record and its expected prediction.
type FixtureRow struct {
	Row         int                `json:"row"`
	Fields      map[string]float64 `json:"fields"`
	Prediction  int                `json:"prediction"`
	Probability *float64           `json:"probability,omitempty"`
}

// Expected returns the prediction the row should replay to.
func (r FixtureRow) Expected() model.Prediction {
	p := model.Prediction{Label: r.Prediction}
	if r.Probability != nil {
		p.Probability = *r.Probability
		p.HasProbability = true
	}
	return p
}

// #endregion fixture-types

// #region fixture-builder

// BuildFixture pairs test rows with the evaluator's predictions. Rows with a missing value are
// skipped: the inference API requires every field to be a finite number.
func BuildFixture(runID tracking.RunID, test record.Dataset, preds []eval.PredictionRow) (*Fixture, error) {
	if len(preds) != test.Len() {
		return nil, fault.Dataf("run %s: %d predictions for %d test rows", runID, len(preds), test.Len())
	}
	f := &Fixture{
		Description: fmt.Sprintf("parity fixture for run %s", runID),
		RunID:       runID,
		Features:    test.Schema.Features,
	}
	for i, r := range test.Records {
		if preds[i].Row != i {
			return nil, fault.Dataf("run %s: prediction %d is for row %d", runID, i, preds[i].Row)
		}
		if hasMissing(r.Values) {
			continue
		}
		fields := make(map[string]float64, len(r.Values))
		for j, name := range test.Schema.Features {
			fields[name] = r.Values[j]
		}
		f.Rows = append(f.Rows, FixtureRow{
			Row:         i,
			Fields:      fields,
			Prediction:  preds[i].Prediction,
			Probability: preds[i].Probability,
		})
	}
	return f, nil
}

func hasMissing(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// #endregion fixture-builder

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-io
