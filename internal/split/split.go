// Package split partitions a labelled dataset into train and test sets.
package split

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/record"
)

// Options controls Partition. Seed makes the shuffle reproducible; Stratify keeps the
// class ratio of both partitions equal to the source.
type Options struct {
	TestSize float64 // fraction of records held out, in (0,1)
	Seed     int64
	Stratify bool
}

// Split holds both partitions and the source indices each was drawn from.
type Split struct {
	Train      record.Dataset
	Test       record.Dataset
	TrainIndex []int
	TestIndex  []int
}

// #region partition
// Partition splits ds. Test size is ceil(TestSize*n); with Stratify each class keeps its
// proportion up to rounding. The result depends only on ds order and Options.
func Partition(ds record.Dataset, opts Options) (Split, error) {
	if !(opts.TestSize > 0 && opts.TestSize < 1) {
		return Split{}, fault.Configf("test_size must be in (0,1), got %v", opts.TestSize)
	}
	if err := ds.Validate(); err != nil {
		return Split{}, err
	}
	n := ds.Len()
	if n == 0 {
		return Split{}, fault.Dataf("cannot split an empty dataset")
	}
	nTest := int(math.Ceil(opts.TestSize * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return Split{}, fault.Dataf("test_size %v leaves an empty partition for %d records", opts.TestSize, n)
	}

	rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0x5eed))

	var testIdx []int
	if opts.Stratify {
		var err error
		testIdx, err = stratified(ds, nTest, rng)
		if err != nil {
			return Split{}, err
		}
	} else {
		perm := rng.Perm(n)
		testIdx = perm[:nTest]
	}
	sort.Ints(testIdx)

	inTest := make([]bool, n)
	for _, i := range testIdx {
		inTest[i] = true
	}
	trainIdx := make([]int, 0, nTrain)
	for i := 0; i < n; i++ {
		if !inTest[i] {
			trainIdx = append(trainIdx, i)
		}
	}

	return Split{
		Train:      ds.Subset(trainIdx),
		Test:       ds.Subset(testIdx),
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
	}, nil
}

// #endregion partition

// #region stratify
func stratified(ds record.Dataset, nTest int, rng *rand.Rand) ([]int, error) {
	distinct, counts := ds.Classes()
	if distinct < 2 {
		return nil, fault.Dataf("cannot stratify on a single label")
	}
	for label, c := range counts {
		if c < 2 {
			return nil, fault.Dataf("label %d has %d member(s), stratification needs at least 2", label, c)
		}
	}

	quota := quotas(counts, nTest, ds.Len())

	members := [2][]int{}
	for i, r := range ds.Records {
		members[r.Label] = append(members[r.Label], i)
	}

	var testIdx []int
	for label := range members {
		idx := slices.Clone(members[label])
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		testIdx = append(testIdx, idx[:quota[label]]...)
	}
	return testIdx, nil
}

// quotas apportions nTest across classes by largest remainder; ties go to the lower label.
func quotas(counts [2]int, nTest, n int) [2]int {
	var q [2]int
	var rem [2]float64
	assigned := 0
	for c := range counts {
		exact := float64(nTest) * float64(counts[c]) / float64(n)
		q[c] = int(math.Floor(exact))
		rem[c] = exact - float64(q[c])
		assigned += q[c]
	}
	for assigned < nTest {
		best := -1
		for c := range counts {
			if q[c] >= counts[c] {
				continue
			}
			if best < 0 || rem[c] > rem[best] {
				best = c
			}
		}
		if best < 0 {
			break
		}
		q[best]++
		rem[best] = -1
		assigned++
	}
	return q
}

// #endregion stratify
