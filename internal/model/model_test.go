package model

import (
	"context"
	"testing"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/forest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constant struct{ label int }

func (c constant) Predict([]float64) int { return c.label }
func (c constant) NumFeatures() int      { return 1 }
func (c constant) Kind() string          { return "constant" }

func fitted(t *testing.T) *forest.Forest {
	t.Helper()
	X := [][]float64{{0}, {0.1}, {0.2}, {0.8}, {0.9}, {1}}
	y := []int{0, 0, 0, 1, 1, 1}
	f, err := forest.Fit(context.Background(), X, y, forest.Params{
		NTrees: 5, MinSamplesSplit: 2, MinSamplesLeaf: 1,
		MaxFeatures: forest.MaxFeaturesAll, ClassWeight: forest.ClassWeightNone, Seed: 1,
	})
	require.NoError(t, err)
	return f
}

func TestEncodeDecodeParity(t *testing.T) {
	f := fitted(t)
	data, err := Encode(f)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, forest.Kind, back.Kind())

	for _, x := range [][]float64{{0.05}, {0.5}, {0.95}} {
		assert.Equal(t, Score(f, x), Score(back, x))
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"svm","model":{}}`))
	assert.True(t, fault.Is(err, fault.Data))
}

func TestScoreWithoutProbability(t *testing.T) {
	p := Score(constant{label: 1}, []float64{3})
	assert.Equal(t, 1, p.Label)
	assert.False(t, p.HasProbability)
}

func TestRoundProbability(t *testing.T) {
	assert.Equal(t, 0.1235, RoundProbability(0.12345))
	assert.Equal(t, 0.9, RoundProbability(0.9))
	assert.Equal(t, 1.0, RoundProbability(0.99999))
}
