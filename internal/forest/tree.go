package forest

import (
	"math/rand/v2"
	"slices"
)

// Node is a flattened tree node. Feature is -1 on leaves.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Positive  float64 `json:"p"` // weighted fraction of class 1 at this node
}

// Tree stores nodes in preorder with the root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) Node {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// #region builder
type builder struct {
	X          [][]float64
	y          []int
	p          Params
	weight     []float64 // per-sample weight: bootstrap count times class weight
	rng        *rand.Rand
	k          int
	mtry       int
	nodes      []Node
	importance []float64
}

func newBuilder(X [][]float64, y []int, p Params, classWeight [2]float64, rng *rand.Rand) *builder {
	n := len(X)
	b := &builder{
		X:          X,
		y:          y,
		p:          p,
		weight:     make([]float64, n),
		rng:        rng,
		k:          len(X[0]),
		importance: make([]float64, len(X[0])),
	}
	b.mtry = p.mtry(b.k)

	if p.Bootstrap {
		for range n {
			b.weight[rng.IntN(n)]++
		}
	} else {
		for i := range b.weight {
			b.weight[i] = 1
		}
	}
	for i := range b.weight {
		b.weight[i] *= classWeight[y[i]]
	}
	return b
}

func (b *builder) grow() Tree {
	idx := make([]int, 0, len(b.X))
	for i, w := range b.weight {
		if w > 0 {
			idx = append(idx, i)
		}
	}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *builder) totals(idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if b.y[i] == 1 {
			w1 += b.weight[i]
		} else {
			w0 += b.weight[i]
		}
	}
	return w0, w1
}

func (b *builder) build(idx []int, depth int) int {
	w0, w1 := b.totals(idx)
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Positive: fraction(w1, w0+w1)})

	if w0 == 0 || w1 == 0 ||
		len(idx) < b.p.MinSamplesSplit ||
		len(idx) < 2*b.p.MinSamplesLeaf ||
		(b.p.MaxDepth > 0 && depth >= b.p.MaxDepth) {
		return self
	}

	s, ok := b.bestSplit(idx, w0, w1)
	if !ok {
		return self
	}
	b.importance[s.feature] += s.decrease

	var left, right []int
	for _, i := range idx {
		if b.X[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self].Feature = s.feature
	b.nodes[self].Threshold = s.threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// #endregion builder

// #region split
type split struct {
	feature   int
	threshold float64
	decrease  float64 // weighted impurity decrease
}

// bestSplit examines a random subset of mtry features, continuing past mtry only until
// a valid partition is found.
func (b *builder) bestSplit(idx []int, w0, w1 float64) (split, bool) {
	total := w0 + w1
	parent := total * gini(w0, w1)
	best := split{decrease: -1}
	found := false

	order := slices.Clone(idx)
	for tried, f := range b.rng.Perm(b.k) {
		if tried >= b.mtry && found {
			break
		}
		slices.SortFunc(order, func(a, c int) int {
			switch va, vc := b.X[a][f], b.X[c][f]; {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return a - c
		})

		var l0, l1 float64
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			if b.y[i] == 1 {
				l1 += b.weight[i]
			} else {
				l0 += b.weight[i]
			}
			lo, hi := b.X[i][f], b.X[order[pos+1]][f]
			if lo == hi {
				continue
			}
			nLeft := pos + 1
			if nLeft < b.p.MinSamplesLeaf || len(order)-nLeft < b.p.MinSamplesLeaf {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			dec := parent - (l0+l1)*gini(l0, l1) - (r0+r1)*gini(r0, r1)
			if dec > best.decrease {
				thr := lo + (hi-lo)/2
				if thr >= hi {
					thr = lo
				}
				best = split{feature: f, threshold: thr, decrease: dec}
				found = true
			}
		}
	}
	return best, found
}

func gini(w0, w1 float64) float64 {
	t := w0 + w1
	if t == 0 {
		return 0
	}
	p0, p1 := w0/t, w1/t
	return 1 - p0*p0 - p1*p1
}

func fraction(a, total float64) float64 {
	if total == 0 {
		return 0
	}
	return a / total
}

func (b *builder) normalizedImportance() []float64 {
	out := slices.Clone(b.importance)
	var sum float64
	for _, v := range out {
		sum += v
	}
	if sum > 0 {
		for j := range out {
			out[j] /= sum
		}
	}
	return out
}

// #endregion split
