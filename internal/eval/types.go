package eval

// #region eval-config
// EvalConfig holds the quality gates applied to a run's test metrics. Zero disables a gate.
type EvalConfig struct {
	MinAccuracy float64 // fail if test_accuracy is below this
	MinAUC      float64 // fail if test_auc is below this, or missing while required
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single gate check result.
type EvalMetric struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Pass      bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the outcome of the quality gates.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"checks"`
	Reason  string       `json:"reason"`
}

// #endregion eval-result

// #region prediction-row
// PredictionRow is one line of the test_predictions artifact. Probability is rounded the
// same way the inference service rounds it, and is absent for models without probabilities.
type PredictionRow struct {
	Row         int      `json:"row"`
	Actual      int      `json:"actual"`
	Prediction  int      `json:"prediction"`
	Probability *float64 `json:"probability,omitempty"`
}

// #endregion prediction-row
