package model

import (
	"fmt"
	"math"
)

// SplitRule decides which child a value equal to the threshold follows.
type SplitRule string

const (
	// SplitLess sends x to the left child when x < threshold (xgboost).
	SplitLess SplitRule = "lt"

	// SplitLessEqual sends x to the left child when x <= threshold (sklearn).
	SplitLessEqual SplitRule = "le"
)

// Tree is a binary decision tree in flat array form. Node 0 is the root;
// a node is a leaf when Left is negative. Value holds one row per node with
// one entry per model output, and Cover the training weight that reached
// the node.
type Tree struct {
	Left      []int       `json:"left"`
	Right     []int       `json:"right"`
	Feature   []int       `json:"feature"`
	Threshold []float64   `json:"threshold"`
	Value     [][]float64 `json:"value"`
	Cover     []float64   `json:"cover"`
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.Left)
}

// IsLeaf reports whether node has no children.
func (t *Tree) IsLeaf(node int) bool {
	return t.Left[node] < 0
}

// Outputs returns the width of each value row.
func (t *Tree) Outputs() int {
	if len(t.Value) == 0 {
		return 0
	}
	return len(t.Value[0])
}

// GoesLeft reports whether x follows the left child of node.
func (t *Tree) GoesLeft(node int, x []float64, rule SplitRule) bool {
	v := x[t.Feature[node]]
	if rule == SplitLessEqual {
		return v <= t.Threshold[node]
	}
	return v < t.Threshold[node]
}

// Leaf returns the leaf node reached by x.
func (t *Tree) Leaf(x []float64, rule SplitRule) int {
	node := 0
	for !t.IsLeaf(node) {
		if t.GoesLeft(node, x, rule) {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

// Expected returns the cover-weighted mean leaf value for output o.
func (t *Tree) Expected(o int) float64 {
	return t.expected(0, o)
}

func (t *Tree) expected(node, o int) float64 {
	if t.IsLeaf(node) {
		return t.Value[node][o]
	}
	l, r := t.Left[node], t.Right[node]
	return (t.Cover[l]*t.expected(l, o) + t.Cover[r]*t.expected(r, o)) / t.Cover[node]
}

// MaxDepth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) MaxDepth() int {
	return t.depth(0)
}

func (t *Tree) depth(node int) int {
	if t.IsLeaf(node) {
		return 0
	}
	return 1 + max(t.depth(t.Left[node]), t.depth(t.Right[node]))
}

// validate checks structure against the classifier width. Children must
// have larger indices than their parent, which rules out cycles.
func (t *Tree) validate(numFeatures, outputs int) error {
	n := t.Len()
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n || len(t.Cover) != n {
		return fmt.Errorf("tree arrays have inconsistent lengths")
	}

	for i := 0; i < n; i++ {
		if len(t.Value[i]) != outputs {
			return fmt.Errorf("node %d has %d outputs, want %d", i, len(t.Value[i]), outputs)
		}
		if t.Cover[i] < 0 || math.IsNaN(t.Cover[i]) {
			return fmt.Errorf("node %d has invalid cover %v", i, t.Cover[i])
		}
		if t.IsLeaf(i) {
			continue
		}
		l, r := t.Left[i], t.Right[i]
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d, %d", i, l, r)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d outside [0, %d)", i, t.Feature[i], numFeatures)
		}
		if t.Cover[i] == 0 {
			return fmt.Errorf("internal node %d has zero cover", i)
		}
	}
	return nil
}
