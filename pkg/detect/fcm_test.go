package detect

import (
	"errors"
	"math"
	"testing"
)

// twoBlobs returns tight clusters around (0,0) and (10,10).
func twoBlobs() []FeatureVector {
	var vectors []FeatureVector
	offsets := []float64{-0.2, -0.1, 0, 0.1, 0.2}
	for _, dx := range offsets {
		for _, dy := range offsets {
			vectors = append(vectors, FeatureVector{dx, dy})
			vectors = append(vectors, FeatureVector{10 + dx, 10 + dy})
		}
	}
	return vectors
}

func TestFCMMembershipSumsToOne(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 2, Seed: 42})
	if err := fcm.Fit(twoBlobs()); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	probes := []FeatureVector{{0, 0}, {5, 5}, {10, 10}, {-3, 7}, {100, -100}}
	for _, x := range probes {
		degrees, err := fcm.Predict(x)
		if err != nil {
			t.Fatalf("Predict(%v): %v", x, err)
		}
		var sum float64
		for _, d := range degrees {
			if d < 0 || d > 1 {
				t.Errorf("degree %v out of [0,1] for %v", d, x)
			}
			sum += d
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("degrees for %v sum to %v, want 1 within 1e-6", x, sum)
		}
	}
}

func TestFCMSeparatesBlobs(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 2, Seed: 42})
	if err := fcm.Fit(twoBlobs()); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	lowDeg, err := fcm.Predict(FeatureVector{0, 0})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	highDeg, err := fcm.Predict(FeatureVector{10, 10})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	lowTop, highTop := argmax(lowDeg), argmax(highDeg)
	if lowTop == highTop {
		t.Fatalf("blob centers landed in the same cluster %d", lowTop)
	}
	if lowDeg[lowTop] < 0.9 || highDeg[highTop] < 0.9 {
		t.Errorf("blob centers should have crisp membership, got %v and %v",
			lowDeg[lowTop], highDeg[highTop])
	}
}

func TestFCMCoincidentPoint(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 2, Seed: 1})
	if err := fcm.Fit(twoBlobs()); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	// A point exactly on a centroid gets degree 1 there, 0 elsewhere.
	for j, c := range fcm.Centroids {
		degrees, err := fcm.Predict(c)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if degrees[j] != 1 {
			t.Errorf("centroid %d membership %v, want exactly 1", j, degrees[j])
		}
		for l, d := range degrees {
			if l != j && d != 0 {
				t.Errorf("centroid %d leaked degree %v into cluster %d", j, d, l)
			}
		}
	}
}

func TestFCMEmptyInput(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 2})
	err := fcm.Fit(nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty input: got %v, want ErrInsufficientData", err)
	}
}

func TestFCMFewerPointsThanClusters(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 5})
	err := fcm.Fit([]FeatureVector{{1, 2}, {3, 4}})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("n < k: got %v, want ErrInsufficientData", err)
	}
}

func TestFCMNotFitted(t *testing.T) {
	fcm := NewFuzzyCMeans(FCMConfig{K: 2})
	if _, err := fcm.Predict(FeatureVector{1, 2}); !errors.Is(err, ErrNotFitted) {
		t.Errorf("got %v, want ErrNotFitted", err)
	}
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
