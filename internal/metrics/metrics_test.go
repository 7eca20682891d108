package metrics

import (
	"testing"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreBasic(t *testing.T) {
	y := []int{1, 1, 0, 0, 1}
	pred := []int{1, 0, 0, 1, 1}
	r, err := Score("test_", y, pred, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, r["test_accuracy"], 1e-12)
	assert.InDelta(t, 2.0/3, r["test_precision"], 1e-12)
	assert.InDelta(t, 2.0/3, r["test_recall"], 1e-12)
	assert.InDelta(t, 2.0/3, r["test_f1"], 1e-12)
	assert.NotContains(t, r, "test_auc")
}

func TestScoreZeroDivision(t *testing.T) {
	r, err := Score("train_", []int{0, 0}, []int{0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r["train_accuracy"])
	assert.Equal(t, 0.0, r["train_precision"])
	assert.Equal(t, 0.0, r["train_f1"])
}

func TestAUC(t *testing.T) {
	auc, ok := AUC([]int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8})
	require.True(t, ok)
	assert.InDelta(t, 0.75, auc, 1e-12)

	auc, ok = AUC([]int{0, 1}, []float64{0.2, 0.9})
	require.True(t, ok)
	assert.InDelta(t, 1.0, auc, 1e-12)

	_, ok = AUC([]int{1, 1}, []float64{0.2, 0.9})
	assert.False(t, ok)
}

func TestScoreIncludesAUC(t *testing.T) {
	r, err := Score("test_", []int{0, 1}, []int{0, 1}, []float64{0.3, 0.7})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r["test_auc"], 1e-12)
}

func TestScoreLengthMismatch(t *testing.T) {
	_, err := Score("", []int{0, 1}, []int{0}, nil)
	assert.True(t, fault.Is(err, fault.Data))
	_, err = Score("", nil, nil, nil)
	assert.True(t, fault.Is(err, fault.Data))
}
