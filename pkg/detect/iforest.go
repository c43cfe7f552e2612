package detect

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// ForestConfig tunes the isolation forest ensemble.
type ForestConfig struct {
	NumTrees        int     `json:"num_trees"`         // default 100
	SampleSize      int     `json:"sample_size"`       // per-tree subsample, default 256
	Contamination   float64 `json:"contamination"`     // assumed anomaly fraction, default 0.1
	MinTrainSamples int     `json:"min_train_samples"` // default 10
	Seed            int64   `json:"seed"`              // 0 = time-based
}

// DefaultForestConfig returns the production defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        100,
		SampleSize:      256,
		Contamination:   0.1,
		MinTrainSamples: 10,
	}
}

func (c *ForestConfig) normalize() {
	if c.NumTrees <= 0 {
		c.NumTrees = 100
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 256
	}
	if c.Contamination <= 0 || c.Contamination >= 1 {
		c.Contamination = 0.1
	}
	if c.MinTrainSamples <= 0 {
		c.MinTrainSamples = 10
	}
}

// forestNode is one node in a tree's arena. Nodes reference children by
// index instead of pointers; Left < 0 marks a leaf. The flat layout avoids
// pointer chasing and keeps the ensemble trivially serializable.
type forestNode struct {
	Dim   int32   `json:"d"`
	Size  int32   `json:"n"`
	Split float64 `json:"s"`
	Left  int32   `json:"l"`
	Right int32   `json:"r"`
}

type isoTree struct {
	Nodes []forestNode `json:"nodes"`
}

// SupervisedScorer supplies a classifier's attack probability for a vector.
// The blend with the unsupervised score is a tunable mixing coefficient,
// not a structural dependency: with no scorer attached the forest scores
// purely unsupervised.
type SupervisedScorer interface {
	Proba(FeatureVector) float64 // probability of attack in [0,1]
}

// IsolationForest isolates points with random axis-parallel splits: a
// feature is chosen at random and the split value drawn uniformly between
// the observed min and max within the current partition, no purity
// criterion. Anomalies isolate in fewer splits, so shorter average path
// length means a higher score.
type IsolationForest struct {
	Config    ForestConfig `json:"config"`
	Trees     []isoTree    `json:"trees"`
	Threshold float64      `json:"threshold"` // decision cut on the 0..100 score
	Fitted    bool         `json:"fitted"`

	supervised SupervisedScorer
	blendW     float64
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(cfg ForestConfig) *IsolationForest {
	cfg.normalize()
	return &IsolationForest{Config: cfg}
}

// AttachSupervised blends the supervised probability into the score with the
// given weight (0..1, fraction of the blend given to the supervised signal).
// Attach before Fit so the decision threshold is computed on blended scores.
func (f *IsolationForest) AttachSupervised(s SupervisedScorer, weight float64) {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	f.supervised = s
	f.blendW = weight
}

// Fit builds the ensemble and derives the decision threshold as the
// (1 - contamination) percentile of the training scores, so the cut adapts
// to score-distribution shifts instead of being a fixed constant.
func (f *IsolationForest) Fit(vectors []FeatureVector) error {
	n := len(vectors)
	if n < f.Config.MinTrainSamples {
		return fmt.Errorf("isolation forest: %d samples, need at least %d: %w",
			n, f.Config.MinTrainSamples, ErrInsufficientData)
	}

	seed := f.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	sampleSize := f.Config.SampleSize
	if sampleSize > n {
		sampleSize = n
	}
	heightLim := int(math.Ceil(math.Log2(float64(sampleSize))))

	f.Trees = make([]isoTree, f.Config.NumTrees)
	sample := make([]FeatureVector, sampleSize)
	for i := 0; i < f.Config.NumTrees; i++ {
		idxs := rng.Perm(n)
		for j := 0; j < sampleSize; j++ {
			sample[j] = vectors[idxs[j]]
		}
		b := &treeBuilder{rng: rng, heightLim: heightLim}
		b.build(sample, 0)
		f.Trees[i] = isoTree{Nodes: b.nodes}
	}
	f.Fitted = true

	// Percentile cut over the training distribution.
	scores := make([]float64, n)
	for i, v := range vectors {
		scores[i] = f.rawScore(v)
	}
	sort.Float64s(scores)
	f.Threshold = quantile(scores, 1-f.Config.Contamination)
	return nil
}

type treeBuilder struct {
	rng       *rand.Rand
	heightLim int
	nodes     []forestNode
}

// build appends the subtree for data and returns its arena index.
func (b *treeBuilder) build(data []FeatureVector, depth int) int32 {
	idx := int32(len(b.nodes))
	if len(data) <= 1 || depth >= b.heightLim {
		b.nodes = append(b.nodes, forestNode{Size: int32(len(data)), Left: -1, Right: -1})
		return idx
	}
	dim := b.rng.Intn(len(data[0]))
	minv, maxv := data[0][dim], data[0][dim]
	for _, row := range data[1:] {
		if row[dim] < minv {
			minv = row[dim]
		}
		if row[dim] > maxv {
			maxv = row[dim]
		}
	}
	if minv == maxv {
		b.nodes = append(b.nodes, forestNode{Size: int32(len(data)), Left: -1, Right: -1})
		return idx
	}
	split := minv + b.rng.Float64()*(maxv-minv)
	left := make([]FeatureVector, 0, len(data))
	right := make([]FeatureVector, 0, len(data))
	for _, row := range data {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		b.nodes = append(b.nodes, forestNode{Size: int32(len(data)), Left: -1, Right: -1})
		return idx
	}
	b.nodes = append(b.nodes, forestNode{Dim: int32(dim), Split: split})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// cFactor is c(n), the average unsuccessful-search path length in a BST,
// used to normalize path lengths.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}

func (t *isoTree) pathLength(x FeatureVector) float64 {
	depth := 0.0
	i := int32(0)
	for {
		node := &t.Nodes[i]
		if node.Left < 0 {
			if node.Size <= 1 {
				return depth
			}
			return depth + cFactor(int(node.Size))
		}
		if x[node.Dim] < node.Split {
			i = node.Left
		} else {
			i = node.Right
		}
		depth++
	}
}

// rawScore maps the average normalized path length to 0..100 and blends the
// supervised probability when one is attached.
func (f *IsolationForest) rawScore(x FeatureVector) float64 {
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	avg := sum / float64(len(f.Trees))
	sampleSize := f.Config.SampleSize
	c := cFactor(sampleSize)
	if c <= 0 {
		c = 1
	}
	ifScore := 100 * math.Pow(2, -avg/c)
	if f.supervised == nil {
		return ifScore
	}
	return f.blendW*(f.supervised.Proba(x)*100) + (1-f.blendW)*ifScore
}

// Score returns the anomaly score in [0,100] (100 = most anomalous) and the
// threshold decision. Scoring an unfit forest returns ErrNotFitted; a zero
// score is never substituted.
func (f *IsolationForest) Score(x FeatureVector) (float64, bool, error) {
	if !f.Fitted || len(f.Trees) == 0 {
		return 0, false, fmt.Errorf("isolation forest: %w", ErrNotFitted)
	}
	s := f.rawScore(x)
	return s, s >= f.Threshold, nil
}
