package generate

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSizeAndBounds(t *testing.T) {
	ds, err := Synthetic(Params{Samples: 2000, Seed: 42})
	require.NoError(t, err)
	require.Equal(t, 2000, ds.Len())
	require.NoError(t, ds.Validate())
	assert.True(t, ds.Schema.Equal(record.BrakeSchema()))

	bounds := [][2]float64{{0, 200}, {0, 10}, {-10, 200}, {0, 15}, {0, 1}, {0.2, 1.0}, {0, 5}}
	for _, r := range ds.Records {
		for j, v := range r.Values {
			assert.False(t, math.IsNaN(v))
			assert.GreaterOrEqual(t, v, bounds[j][0])
			assert.LessOrEqual(t, v, bounds[j][1])
		}
	}

	distinct, counts := ds.Classes()
	assert.Equal(t, 2, distinct)
	assert.Greater(t, counts[0], 0)
	assert.Greater(t, counts[1], 0)
}

func TestSyntheticReproducible(t *testing.T) {
	a, err := Synthetic(Params{Samples: 300, Seed: 7, MissingRate: 0.1})
	require.NoError(t, err)
	b, err := Synthetic(Params{Samples: 300, Seed: 7, MissingRate: 0.1})
	require.NoError(t, err)

	for i := range a.Records {
		assert.Equal(t, a.Records[i].Label, b.Records[i].Label)
		for j := range a.Records[i].Values {
			va, vb := a.Records[i].Values[j], b.Records[i].Values[j]
			if math.IsNaN(va) {
				assert.True(t, math.IsNaN(vb))
				continue
			}
			assert.Equal(t, va, vb)
		}
	}

	c, err := Synthetic(Params{Samples: 300, Seed: 8})
	require.NoError(t, err)
	assert.NotEqual(t, a.Records[0].Values[0], c.Records[0].Values[0])
}

func TestSyntheticMissingRateBlanksCells(t *testing.T) {
	ds, err := Synthetic(Params{Samples: 1000, Seed: 1, MissingRate: 0.2})
	require.NoError(t, err)

	missing := 0
	for _, r := range ds.Records {
		for _, v := range r.Values {
			if math.IsNaN(v) {
				missing++
			}
		}
	}
	assert.InDelta(t, 0.2, float64(missing)/7000, 0.03)
}

func TestSyntheticRejectsBadParams(t *testing.T) {
	_, err := Synthetic(Params{Samples: 0, Seed: 1})
	assert.True(t, fault.Is(err, fault.Config))

	_, err = Synthetic(Params{Samples: 10, MissingRate: 1})
	assert.True(t, fault.Is(err, fault.Config))
}
