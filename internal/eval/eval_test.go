package eval

import (
	"testing"

	"github.com/danielpatrickdp/brakeguard/internal/metrics"
)

func TestEvalPassesWithNoGates(t *testing.T) {
	h := NewEvalHarness(EvalConfig{})
	result := h.Run(metrics.Report{"test_accuracy": 0.1})
	if !result.Passed {
		t.Fatalf("expected pass with gates disabled, got: %s", result.Reason)
	}
	if len(result.Metrics) != 0 {
		t.Fatalf("expected no checks, got %d", len(result.Metrics))
	}
}

func TestEvalFailsBelowAccuracy(t *testing.T) {
	h := NewEvalHarness(EvalConfig{MinAccuracy: 0.8})
	result := h.Run(metrics.Report{"test_accuracy": 0.75})
	if result.Passed {
		t.Fatal("expected failure below min accuracy")
	}
	if result.Reason != "eval failed: test_accuracy 0.7500 below 0.8000" {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
}

func TestEvalMissingAUCFails(t *testing.T) {
	h := NewEvalHarness(EvalConfig{MinAccuracy: 0.5, MinAUC: 0.5})
	result := h.Run(metrics.Report{"test_accuracy": 0.4})
	if result.Passed {
		t.Fatal("expected failure")
	}
	if len(result.Metrics) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(result.Metrics))
	}
	if result.Reason != "eval failed: 2 checks: test_accuracy 0.4000 below 0.5000" {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
}

func TestEvalPassesAboveGates(t *testing.T) {
	h := NewEvalHarness(EvalConfig{MinAccuracy: 0.8, MinAUC: 0.85})
	result := h.Run(metrics.Report{"test_accuracy": 0.9, "test_auc": 0.95})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Reason)
	}
	for _, m := range result.Metrics {
		if !m.Pass {
			t.Fatalf("check %s should pass", m.Name)
		}
	}
}
