package detect

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// FCMConfig tunes the fuzzy c-means classifier.
type FCMConfig struct {
	K         int     `json:"k"`         // clusters; default = taxonomy size
	Fuzziness float64 `json:"fuzziness"` // m; lower = crisper, higher = flatter; default 2.0
	MaxIter   int     `json:"max_iter"`  // default 150
	Tolerance float64 `json:"tolerance"` // centroid-shift convergence cut, default 1e-6
	Seed      int64   `json:"seed"`      // 0 = time-based
}

// DefaultFCMConfig returns the production defaults.
func DefaultFCMConfig() FCMConfig {
	return FCMConfig{
		K:         len(DefaultTaxonomy()),
		Fuzziness: 2.0,
		MaxIter:   150,
		Tolerance: 1e-6,
	}
}

func (c *FCMConfig) normalize() {
	if c.K <= 0 {
		c.K = len(DefaultTaxonomy())
	}
	if c.Fuzziness <= 1 {
		c.Fuzziness = 2.0
	}
	if c.MaxIter <= 0 {
		c.MaxIter = 150
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-6
	}
}

// coincidentEps: a point this close to a centroid is treated as coincident
// to avoid division by zero in the membership update.
const coincidentEps = 1e-12

// FuzzyCMeans soft-clusters anomalous vectors: each point gets a membership
// degree in every cluster, degrees summing to 1 by construction. Events
// often exhibit characteristics of several threat types, so the soft
// assignment carries more signal than a hard label.
type FuzzyCMeans struct {
	Config    FCMConfig       `json:"config"`
	Centroids []FeatureVector `json:"centroids"`
	Fitted    bool            `json:"fitted"`
}

// NewFuzzyCMeans creates an unfitted classifier.
func NewFuzzyCMeans(cfg FCMConfig) *FuzzyCMeans {
	cfg.normalize()
	return &FuzzyCMeans{Config: cfg}
}

// Fit clusters the anomalous vectors. An empty input returns
// ErrInsufficientData so the caller can short-circuit: "no anomalies this
// run" is a valid and common state, not a crash.
func (f *FuzzyCMeans) Fit(vectors []FeatureVector) error {
	n := len(vectors)
	if n == 0 {
		return fmt.Errorf("fuzzy c-means: no anomalous vectors: %w", ErrInsufficientData)
	}
	k := f.Config.K
	if n < k {
		return fmt.Errorf("fuzzy c-means: %d vectors for %d clusters: %w", n, k, ErrInsufficientData)
	}

	seed := f.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Seed centroids with k distinct sample points.
	dim := len(vectors[0])
	centroids := make([]FeatureVector, k)
	for i, idx := range rng.Perm(n)[:k] {
		centroids[i] = append(FeatureVector(nil), vectors[idx]...)
	}

	u := make([][]float64, n)
	for iter := 0; iter < f.Config.MaxIter; iter++ {
		for i, x := range vectors {
			u[i] = membershipDegrees(x, centroids, f.Config.Fuzziness)
		}

		shift := 0.0
		for j := 0; j < k; j++ {
			next := make(FeatureVector, dim)
			var wsum float64
			for i, x := range vectors {
				w := math.Pow(u[i][j], f.Config.Fuzziness)
				wsum += w
				for d := 0; d < dim; d++ {
					next[d] += w * x[d]
				}
			}
			if wsum > 0 {
				for d := 0; d < dim; d++ {
					next[d] /= wsum
				}
			} else {
				copy(next, centroids[j]) // empty cluster keeps its centroid
			}
			if s := euclidean(next, centroids[j]); s > shift {
				shift = s
			}
			centroids[j] = next
		}
		if shift < f.Config.Tolerance {
			break
		}
	}

	f.Centroids = centroids
	f.Fitted = true
	return nil
}

// Predict returns the membership degree of x in each cluster, indexed by
// cluster id. Degrees sum to 1. ErrNotFitted before a successful Fit.
func (f *FuzzyCMeans) Predict(x FeatureVector) ([]float64, error) {
	if !f.Fitted || len(f.Centroids) == 0 {
		return nil, fmt.Errorf("fuzzy c-means: %w", ErrNotFitted)
	}
	return membershipDegrees(x, f.Centroids, f.Config.Fuzziness), nil
}

// membershipDegrees computes u_j = 1 / sum_l (d_j/d_l)^(2/(m-1)). A point
// coincident with a centroid gets degree 1 there and 0 elsewhere.
func membershipDegrees(x FeatureVector, centroids []FeatureVector, m float64) []float64 {
	k := len(centroids)
	dists := make([]float64, k)
	for j, c := range centroids {
		d := euclidean(x, c)
		if d < coincidentEps {
			u := make([]float64, k)
			u[j] = 1
			return u
		}
		dists[j] = d
	}
	power := 2.0 / (m - 1)
	u := make([]float64, k)
	for j := 0; j < k; j++ {
		var sum float64
		for l := 0; l < k; l++ {
			sum += math.Pow(dists[j]/dists[l], power)
		}
		u[j] = 1.0 / sum
	}
	return u
}

func euclidean(a, b FeatureVector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
