package eval

import (
	"fmt"

	"github.com/danielpatrickdp/brakeguard/internal/metrics"
)

// #region eval-harness
// EvalHarness checks a test metrics report against the configured gates.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run applies each enabled gate. Disabled gates are not reported.
func (h *EvalHarness) Run(report metrics.Report) EvalResult {
	var checks []EvalMetric
	var failReasons []string

	gates := []struct {
		name      string
		threshold float64
	}{
		{"test_accuracy", h.config.MinAccuracy},
		{"test_auc", h.config.MinAUC},
	}
	for _, g := range gates {
		if g.threshold <= 0 {
			continue
		}
		value, ok := report[g.name]
		pass := ok && value >= g.threshold
		checks = append(checks, EvalMetric{Name: g.name, Value: value, Threshold: g.threshold, Pass: pass})
		switch {
		case !ok:
			failReasons = append(failReasons, fmt.Sprintf("%s unavailable", g.name))
		case !pass:
			failReasons = append(failReasons, fmt.Sprintf("%s %.4f below %.4f", g.name, value, g.threshold))
		}
	}

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: checks,
		Reason:  reason,
	}
}

// #endregion eval-harness
