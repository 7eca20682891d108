package split

import (
	"testing"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/generate"
	"github.com/danielpatrickdp/brakeguard/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelled(labels ...int) record.Dataset {
	ds := record.Dataset{Schema: record.Schema{Features: []string{"x"}, Label: "y"}}
	for i, l := range labels {
		ds.Records = append(ds.Records, record.Record{Values: []float64{float64(i)}, Label: l})
	}
	return ds
}

func TestPartitionSizesAndDisjoint(t *testing.T) {
	ds, err := generate.Synthetic(generate.Params{Samples: 1000, Seed: 42})
	require.NoError(t, err)

	s, err := Partition(ds, Options{TestSize: 0.2, Seed: 42, Stratify: true})
	require.NoError(t, err)
	assert.Equal(t, 200, s.Test.Len())
	assert.Equal(t, 800, s.Train.Len())

	seen := map[int]bool{}
	for _, i := range append(append([]int{}, s.TrainIndex...), s.TestIndex...) {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 1000)
}

func TestPartitionCeilsTestSize(t *testing.T) {
	s, err := Partition(labelled(0, 1, 0, 1, 0, 1, 0), Options{TestSize: 0.3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Test.Len())
	assert.Equal(t, 4, s.Train.Len())
}

func TestPartitionReproducible(t *testing.T) {
	ds, err := generate.Synthetic(generate.Params{Samples: 500, Seed: 3})
	require.NoError(t, err)

	a, err := Partition(ds, Options{TestSize: 0.25, Seed: 9, Stratify: true})
	require.NoError(t, err)
	b, err := Partition(ds, Options{TestSize: 0.25, Seed: 9, Stratify: true})
	require.NoError(t, err)
	assert.Equal(t, a.TestIndex, b.TestIndex)

	c, err := Partition(ds, Options{TestSize: 0.25, Seed: 10, Stratify: true})
	require.NoError(t, err)
	assert.NotEqual(t, a.TestIndex, c.TestIndex)
}

func TestPartitionStratifiedKeepsProportion(t *testing.T) {
	ds, err := generate.Synthetic(generate.Params{Samples: 1000, Seed: 42})
	require.NoError(t, err)
	_, all := ds.Classes()

	s, err := Partition(ds, Options{TestSize: 0.2, Seed: 42, Stratify: true})
	require.NoError(t, err)
	_, test := s.Test.Classes()

	for c := range all {
		expected := 0.2 * float64(all[c])
		assert.InDelta(t, expected, float64(test[c]), 1.0)
	}
}

func TestQuotasLargestRemainder(t *testing.T) {
	// 5 * 3/6 = 2.5 each; the tie goes to label 0.
	assert.Equal(t, [2]int{3, 2}, quotas([2]int{3, 3}, 5, 6))
	assert.Equal(t, [2]int{2, 0}, quotas([2]int{9, 1}, 2, 10))
}

func TestPartitionErrors(t *testing.T) {
	_, err := Partition(labelled(), Options{TestSize: 0.2})
	assert.True(t, fault.Is(err, fault.Data))

	_, err = Partition(labelled(1, 1, 1, 1), Options{TestSize: 0.5, Stratify: true})
	assert.True(t, fault.Is(err, fault.Data))

	_, err = Partition(labelled(0, 0, 0, 1), Options{TestSize: 0.5, Stratify: true})
	assert.True(t, fault.Is(err, fault.Data))

	_, err = Partition(labelled(0, 1), Options{TestSize: 0.99})
	assert.True(t, fault.Is(err, fault.Data))

	_, err = Partition(labelled(0, 1, 0, 1), Options{TestSize: 1.5})
	assert.True(t, fault.Is(err, fault.Config))
}
