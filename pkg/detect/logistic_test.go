package detect

import (
	"errors"
	"testing"
)

func separable() ([]FeatureVector, []bool) {
	var vectors []FeatureVector
	var labels []bool
	for i := 0; i < 40; i++ {
		off := float64(i%5) * 0.1
		vectors = append(vectors, FeatureVector{-2 - off, -2 + off})
		labels = append(labels, false)
		vectors = append(vectors, FeatureVector{2 + off, 2 - off})
		labels = append(labels, true)
	}
	return vectors, labels
}

func TestLogisticSeparatesClasses(t *testing.T) {
	lc := NewLogisticClassifier(DefaultLogisticConfig())
	vectors, labels := separable()
	if err := lc.Fit(vectors, labels); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if p := lc.Proba(FeatureVector{3, 3}); p < 0.9 {
		t.Errorf("attack-side probability %v, want > 0.9", p)
	}
	if p := lc.Proba(FeatureVector{-3, -3}); p > 0.1 {
		t.Errorf("normal-side probability %v, want < 0.1", p)
	}
}

func TestLogisticRequiresBothClasses(t *testing.T) {
	lc := NewLogisticClassifier(DefaultLogisticConfig())
	vectors := []FeatureVector{{1, 1}, {2, 2}, {3, 3}}
	err := lc.Fit(vectors, []bool{true, true, true})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("single-class fit: got %v, want ErrInsufficientData", err)
	}
}

func TestLogisticUntrainedIsUninformative(t *testing.T) {
	lc := NewLogisticClassifier(DefaultLogisticConfig())
	if p := lc.Proba(FeatureVector{5, 5}); p != 0.5 {
		t.Errorf("untrained probability %v, want 0.5", p)
	}
}

func TestLogisticDimensionMismatch(t *testing.T) {
	lc := NewLogisticClassifier(DefaultLogisticConfig())
	vectors, labels := separable()
	if err := lc.Fit(vectors, labels); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if p := lc.Proba(FeatureVector{1, 2, 3}); p != 0.5 {
		t.Errorf("mismatched vector probability %v, want 0.5", p)
	}
}
