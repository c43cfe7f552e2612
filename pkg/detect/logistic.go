package detect

import (
	"fmt"
	"math"
	"math/rand"
)

// LogisticConfig tunes the supervised fallback classifier.
type LogisticConfig struct {
	LearningRate float64 `json:"learning_rate"` // default 0.1
	Epochs       int     `json:"epochs"`        // default 200
	L2           float64 `json:"l2"`            // default 1e-4
	Seed         int64   `json:"seed"`
}

// DefaultLogisticConfig returns the production defaults.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{LearningRate: 0.1, Epochs: 200, L2: 1e-4, Seed: 1}
}

// LogisticClassifier is a binary attack/normal classifier trained with SGD.
// It backs the supervised arm of the anomaly-score blend when trusted labels
// exist; in a purely unsupervised deployment it is simply never attached.
type LogisticClassifier struct {
	Config  LogisticConfig `json:"config"`
	Weights []float64      `json:"weights"`
	Bias    float64        `json:"bias"`
	Trained bool           `json:"trained"`
}

// NewLogisticClassifier creates an untrained classifier.
func NewLogisticClassifier(cfg LogisticConfig) *LogisticClassifier {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 200
	}
	return &LogisticClassifier{Config: cfg}
}

// Fit trains on labeled vectors (label true = attack). Requires at least one
// example of each class; anything less cannot separate the classes.
func (lc *LogisticClassifier) Fit(vectors []FeatureVector, labels []bool) error {
	if len(vectors) == 0 || len(vectors) != len(labels) {
		return fmt.Errorf("logistic fit: %d vectors, %d labels: %w", len(vectors), len(labels), ErrInsufficientData)
	}
	pos, neg := 0, 0
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return fmt.Errorf("logistic fit: need both classes (%d attack, %d normal): %w", pos, neg, ErrInsufficientData)
	}

	dim := len(vectors[0])
	lc.Weights = make([]float64, dim)
	lc.Bias = 0
	rng := rand.New(rand.NewSource(lc.Config.Seed))
	order := rng.Perm(len(vectors))

	lr := lc.Config.LearningRate
	for epoch := 0; epoch < lc.Config.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, i := range order {
			x := vectors[i]
			y := 0.0
			if labels[i] {
				y = 1.0
			}
			grad := sigmoid(lc.decision(x)) - y
			for d := 0; d < dim; d++ {
				lc.Weights[d] -= lr * (grad*x[d] + lc.Config.L2*lc.Weights[d])
			}
			lc.Bias -= lr * grad
		}
	}
	lc.Trained = true
	return nil
}

// Proba returns the attack probability in [0,1]. An untrained classifier
// reports 0.5 (no information) rather than biasing the blend.
func (lc *LogisticClassifier) Proba(x FeatureVector) float64 {
	if !lc.Trained || len(x) != len(lc.Weights) {
		return 0.5
	}
	return sigmoid(lc.decision(x))
}

func (lc *LogisticClassifier) decision(x FeatureVector) float64 {
	z := lc.Bias
	for d := range lc.Weights {
		z += lc.Weights[d] * x[d]
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
