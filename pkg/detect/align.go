package detect

import (
	"fmt"
	"math"
)

// Fuzzy c-means emits arbitrarily ordered, unlabeled clusters on every
// retrain; without alignment "category 0" could mean DDoS today and Insider
// Threat tomorrow, breaking historical comparability. The aligner matches
// new centroids to the previous run's labeled centroids with an optimal
// one-to-one assignment (greedy nearest-match can produce inconsistent
// many-to-one mappings).

// padCost fills dummy rows/columns when cluster counts differ. Large enough
// that the solver never prefers a dummy over a real match.
const padCost = 1e12

// LabelAligner maps new cluster ids to stable category labels.
type LabelAligner struct {
	taxonomy []string
	maxDist  float64 // centroid distance above this means "no match"
}

// DefaultMaxMatchDistance is the centroid-distance cut in robust-scaled
// feature space beyond which a new cluster is considered a fresh category.
const DefaultMaxMatchDistance = 10.0

// NewLabelAligner creates an aligner over a fixed taxonomy.
func NewLabelAligner(taxonomy []string, maxDist float64) *LabelAligner {
	if len(taxonomy) == 0 {
		taxonomy = DefaultTaxonomy()
	}
	if maxDist <= 0 {
		maxDist = DefaultMaxMatchDistance
	}
	return &LabelAligner{taxonomy: taxonomy, maxDist: maxDist}
}

// Align labels each new centroid. Matched clusters inherit the previous
// run's label; unmatched clusters (cost above the distance cut, or no
// previous run) draw fresh taxonomy labels lowest-cluster-id first. The
// returned ambiguity is non-nil when the cost matrix was degenerate; the
// mapping is still valid via deterministic tie-break and the caller should
// log it as a warning, never fail.
func (a *LabelAligner) Align(newCentroids []FeatureVector, previous []Category) ([]Category, *AlignmentAmbiguity) {
	cats := make([]Category, len(newCentroids))
	for i, c := range newCentroids {
		cats[i] = Category{ID: i, Centroid: c}
	}
	if len(newCentroids) == 0 {
		return cats, nil
	}

	var ambiguity *AlignmentAmbiguity
	matched := make(map[string]bool, len(previous))

	if len(previous) > 0 {
		n := len(newCentroids)
		m := len(previous)
		size := n
		if m > size {
			size = m
		}
		cost := make([][]float64, size)
		first, allEqual := math.NaN(), true
		for i := range cost {
			cost[i] = make([]float64, size)
			for j := range cost[i] {
				if i < n && j < m {
					d := euclidean(newCentroids[i], previous[j].Centroid)
					cost[i][j] = d
					if math.IsNaN(first) {
						first = d
					} else if math.Abs(d-first) > 1e-9 {
						allEqual = false
					}
				} else {
					cost[i][j] = padCost
				}
			}
		}
		if allEqual && n*m > 1 {
			ambiguity = &AlignmentAmbiguity{
				Reason: fmt.Sprintf("all %dx%d centroid distances equal (%.6g); resolved by lowest-cluster-id order", n, m, first),
			}
		}

		assign := solveAssignment(cost)
		for i := 0; i < n; i++ {
			j := assign[i]
			if j < m && cost[i][j] <= a.maxDist {
				cats[i].Label = previous[j].Label
				matched[previous[j].Label] = true
			}
		}
	}

	// Fresh labels for unmatched clusters, lowest cluster id first.
	next := 0
	for i := range cats {
		if cats[i].Label != "" {
			continue
		}
		for next < len(a.taxonomy) && matched[a.taxonomy[next]] {
			next++
		}
		if next < len(a.taxonomy) {
			cats[i].Label = a.taxonomy[next]
			matched[a.taxonomy[next]] = true
		} else {
			cats[i].Label = fmt.Sprintf("Unclassified-%d", i)
		}
	}
	return cats, ambiguity
}

// solveAssignment finds the minimum-cost perfect matching on a square cost
// matrix (Kuhn–Munkres with potentials, O(n^3)). Returns the column chosen
// for each row. Deterministic for a given matrix.
func solveAssignment(cost [][]float64) []int {
	n := len(cost)
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row matched to column j
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	ans := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			ans[p[j]-1] = j - 1
		}
	}
	return ans
}
