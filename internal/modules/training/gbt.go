// Package training fits the next-day return model: a least-squares
// gradient-boosted regression tree ensemble with time-respecting
// cross-validation, and the model store that versions the resulting
// artifacts.
package training

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"
)

// GBTParams are the fixed ensemble hyperparameters. They are configured,
// never tuned per run.
type GBTParams struct {
	Trees        int     `msgpack:"trees"`
	LearningRate float64 `msgpack:"learning_rate"`
	Subsample    float64 `msgpack:"subsample"`  // Row sampling fraction per tree
	ColSample    float64 `msgpack:"col_sample"` // Feature sampling fraction per split
	MaxDepth     int     `msgpack:"max_depth"`
	MinLeaf      int     `msgpack:"min_leaf"`
	Seed         int64   `msgpack:"seed"`
}

// CVParams are the hyperparameters used for the per-fold diagnostic models
func CVParams() GBTParams {
	return GBTParams{Trees: 600, LearningRate: 0.03, Subsample: 0.8, ColSample: 0.8, MaxDepth: 3, MinLeaf: 20, Seed: 1}
}

// FinalParams are the hyperparameters used for the published model
func FinalParams() GBTParams {
	return GBTParams{Trees: 800, LearningRate: 0.03, Subsample: 0.9, ColSample: 0.9, MaxDepth: 3, MinLeaf: 20, Seed: 1}
}

// treeNode is one node of a regression tree. Leaves have ChildLeft == -1.
// Every node stores the mean target of the training samples that reached
// it, which is what the additive attribution walks.
type treeNode struct {
	Feature    int     `msgpack:"f"`
	Threshold  float64 `msgpack:"t"`
	ChildLeft  int     `msgpack:"l"`
	ChildRight int     `msgpack:"r"`
	Value      float64 `msgpack:"v"`
}

func (n *treeNode) isLeaf() bool {
	return n.ChildLeft < 0
}

// regressionTree is a depth-limited CART regression tree stored as a flat
// node slice
type regressionTree struct {
	Nodes []treeNode `msgpack:"nodes"`
}

// predict walks the tree for one sample
func (t *regressionTree) predict(x []float64) float64 {
	node := &t.Nodes[0]
	for !node.isLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = &t.Nodes[node.ChildLeft]
		} else {
			node = &t.Nodes[node.ChildRight]
		}
	}
	return node.Value
}

// GBTModel is the boosted ensemble: a base prediction plus shrunk tree
// corrections.
type GBTModel struct {
	Base        float64          `msgpack:"base"`
	Shrink      float64          `msgpack:"shrink"`
	NumFeatures int              `msgpack:"num_features"`
	Trees       []regressionTree `msgpack:"trees"`
	Params      GBTParams        `msgpack:"params"`
}

// TrainGBT fits the ensemble on (X, y) with the given fixed hyperparameters.
// Determinism is the caller's concern: the same seed and data always yield
// the same model.
func TrainGBT(X [][]float64, y []float64, params GBTParams) (*GBTModel, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("invalid training matrix: %d rows, %d labels", len(X), len(y))
	}
	numFeatures := len(X[0])
	for i, row := range X {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("ragged training matrix at row %d", i)
		}
	}

	rng := rand.New(rand.NewSource(params.Seed))

	model := &GBTModel{
		Base:        stat.Mean(y, nil),
		Shrink:      params.LearningRate,
		NumFeatures: numFeatures,
		Trees:       make([]regressionTree, 0, params.Trees),
		Params:      params,
	}

	// Current ensemble prediction per row
	preds := make([]float64, len(y))
	for i := range preds {
		preds[i] = model.Base
	}

	residuals := make([]float64, len(y))
	for m := 0; m < params.Trees; m++ {
		for i := range y {
			residuals[i] = y[i] - preds[i]
		}

		rowIdx := sampleRows(len(y), params.Subsample, rng)
		builder := &treeBuilder{
			X:         X,
			target:    residuals,
			maxDepth:  params.MaxDepth,
			minLeaf:   params.MinLeaf,
			colSample: params.ColSample,
			rng:       rng,
		}
		tree := builder.build(rowIdx)
		model.Trees = append(model.Trees, tree)

		for i := range preds {
			preds[i] += model.Shrink * tree.predict(X[i])
		}
	}

	return model, nil
}

// Predict scores one sample
func (m *GBTModel) Predict(x []float64) (float64, error) {
	if len(x) != m.NumFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", m.NumFeatures, len(x))
	}
	out := m.Base
	for i := range m.Trees {
		out += m.Shrink * m.Trees[i].predict(x)
	}
	return out, nil
}

// Contributions decomposes one sample's prediction into additive
// per-feature contributions (the Saabas path method): at every split the
// change in node mean is attributed to the split feature. The contributions
// plus the base value sum to the prediction.
func (m *GBTModel) Contributions(x []float64) ([]float64, error) {
	if len(x) != m.NumFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", m.NumFeatures, len(x))
	}

	contribs := make([]float64, m.NumFeatures)
	for ti := range m.Trees {
		tree := &m.Trees[ti]
		node := &tree.Nodes[0]
		for !node.isLeaf() {
			var child *treeNode
			if x[node.Feature] <= node.Threshold {
				child = &tree.Nodes[node.ChildLeft]
			} else {
				child = &tree.Nodes[node.ChildRight]
			}
			contribs[node.Feature] += m.Shrink * (child.Value - node.Value)
			node = child
		}
	}
	return contribs, nil
}

// Marshal encodes the model for storage in a ModelArtifact
func (m *GBTModel) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return data, nil
}

// UnmarshalGBT decodes a ModelArtifact's serialized parameters
func UnmarshalGBT(data []byte) (*GBTModel, error) {
	var m GBTModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(m.Trees) == 0 && m.NumFeatures == 0 {
		return nil, fmt.Errorf("decoded model is empty")
	}
	return &m, nil
}

// sampleRows draws a subsample of row indices without replacement
func sampleRows(n int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1 || fraction <= 0 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(math.Round(float64(n) * fraction))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)
	idx := perm[:k]
	sort.Ints(idx)
	return idx
}

// treeBuilder grows one regression tree with exact greedy splits
type treeBuilder struct {
	X         [][]float64
	target    []float64
	maxDepth  int
	minLeaf   int
	colSample float64
	rng       *rand.Rand

	nodes []treeNode
}

func (b *treeBuilder) build(rows []int) regressionTree {
	b.nodes = b.nodes[:0]
	b.grow(rows, 0)
	return regressionTree{Nodes: append([]treeNode(nil), b.nodes...)}
}

// grow appends the subtree for the given rows and returns its root index
func (b *treeBuilder) grow(rows []int, depth int) int {
	value := b.meanTarget(rows)
	idx := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: -1, ChildLeft: -1, ChildRight: -1, Value: value})

	if depth >= b.maxDepth || len(rows) < 2*b.minLeaf {
		return idx
	}

	feature, threshold, ok := b.bestSplit(rows)
	if !ok {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return idx
	}

	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = threshold
	b.nodes[idx].ChildLeft = leftIdx
	b.nodes[idx].ChildRight = rightIdx
	return idx
}

func (b *treeBuilder) meanTarget(rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range rows {
		sum += b.target[r]
	}
	return sum / float64(len(rows))
}

// bestSplit finds the (feature, threshold) pair minimizing the sum of
// squared errors over a sampled feature subset
func (b *treeBuilder) bestSplit(rows []int) (int, float64, bool) {
	numFeatures := len(b.X[0])
	candidates := b.sampleFeatures(numFeatures)

	bestFeature := -1
	bestThreshold := 0.0
	bestScore := math.Inf(1)

	sorted := make([]int, len(rows))
	for _, feature := range candidates {
		copy(sorted, rows)
		f := feature
		sort.Slice(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		// Prefix sums over the sorted order
		totalSum := 0.0
		totalSq := 0.0
		for _, r := range sorted {
			totalSum += b.target[r]
			totalSq += b.target[r] * b.target[r]
		}

		leftSum := 0.0
		leftSq := 0.0
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			leftSum += b.target[r]
			leftSq += b.target[r] * b.target[r]

			nLeft := float64(i + 1)
			nRight := float64(len(sorted) - i - 1)
			if i+1 < b.minLeaf || len(sorted)-i-1 < b.minLeaf {
				continue
			}

			// Identical feature values cannot be separated
			if b.X[r][f] == b.X[sorted[i+1]][f] {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/nLeft) + (rightSq - rightSum*rightSum/nRight)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = (b.X[r][f] + b.X[sorted[i+1]][f]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// sampleFeatures draws the feature subset considered for one split decision
func (b *treeBuilder) sampleFeatures(numFeatures int) []int {
	if b.colSample >= 1 || b.colSample <= 0 {
		all := make([]int, numFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	k := int(math.Round(float64(numFeatures) * b.colSample))
	if k < 1 {
		k = 1
	}
	perm := b.rng.Perm(numFeatures)
	return perm[:k]
}
