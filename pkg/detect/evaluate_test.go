package detect

import (
	"math"
	"testing"
)

func TestConfusionCounts(t *testing.T) {
	predicted := []bool{true, true, false, false, true, false}
	truth := []bool{true, false, true, false, true, false}

	cm, err := Confusion(predicted, truth)
	if err != nil {
		t.Fatalf("Confusion: %v", err)
	}
	if cm.TruePositives != 2 || cm.FalsePositives != 1 || cm.FalseNegatives != 1 || cm.TrueNegatives != 2 {
		t.Errorf("confusion = %+v, want TP=2 FP=1 FN=1 TN=2", cm)
	}
	if got := cm.Accuracy(); got != 4.0/6.0 {
		t.Errorf("accuracy %v, want %v", got, 4.0/6.0)
	}
	if got := cm.Precision(); got != 2.0/3.0 {
		t.Errorf("precision %v, want %v", got, 2.0/3.0)
	}
	if got := cm.Recall(); got != 2.0/3.0 {
		t.Errorf("recall %v, want %v", got, 2.0/3.0)
	}
	if got := cm.F1(); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Errorf("f1 %v, want %v", got, 2.0/3.0)
	}
}

func TestConfusionLengthMismatch(t *testing.T) {
	if _, err := Confusion([]bool{true}, []bool{true, false}); err == nil {
		t.Error("length mismatch must error")
	}
}

func TestConfusionEmptyDenominators(t *testing.T) {
	var cm ConfusionMatrix
	if cm.Accuracy() != 0 || cm.Precision() != 0 || cm.Recall() != 0 || cm.F1() != 0 {
		t.Error("empty matrix metrics must all be 0")
	}
}

func TestROCCurvePerfectSeparation(t *testing.T) {
	scores := []float64{90, 85, 20, 10}
	truth := []bool{true, true, false, false}

	points, auc := ROCCurve(scores, truth)
	if auc != 1 {
		t.Errorf("AUC %v, want 1 for perfectly separated scores", auc)
	}
	last := points[len(points)-1]
	if last.X != 1 || last.Y != 1 {
		t.Errorf("curve must end at (1,1), got (%v,%v)", last.X, last.Y)
	}
}

func TestROCCurveInvertedScores(t *testing.T) {
	scores := []float64{10, 20, 85, 90}
	truth := []bool{true, true, false, false}

	_, auc := ROCCurve(scores, truth)
	if auc != 0 {
		t.Errorf("AUC %v, want 0 for inverted scores", auc)
	}
}

func TestROCCurveTiedScoresMoveTogether(t *testing.T) {
	scores := []float64{50, 50, 50, 50}
	truth := []bool{true, false, true, false}

	points, auc := ROCCurve(scores, truth)
	// One threshold step: (0,0) then (1,1). Diagonal AUC.
	if len(points) != 2 {
		t.Fatalf("got %d curve points, want 2", len(points))
	}
	if auc != 0.5 {
		t.Errorf("AUC %v, want 0.5", auc)
	}
}

func TestPrecisionRecallCurve(t *testing.T) {
	scores := []float64{90, 80, 70, 60}
	truth := []bool{true, false, true, false}

	points := PrecisionRecallCurve(scores, truth)
	if points[0].Y != 1 {
		t.Errorf("curve must start at precision 1, got %v", points[0].Y)
	}
	last := points[len(points)-1]
	if last.X != 1 {
		t.Errorf("curve must end at recall 1, got %v", last.X)
	}
	if last.Y != 0.5 {
		t.Errorf("final precision %v, want 0.5", last.Y)
	}
}

func TestSeparationIndexWellSeparated(t *testing.T) {
	vectors := twoBlobs()
	fcm := NewFuzzyCMeans(FCMConfig{K: 2, Seed: 42})
	if err := fcm.Fit(vectors); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	si, err := SeparationIndex(vectors, fcm)
	if err != nil {
		t.Fatalf("SeparationIndex: %v", err)
	}
	if math.IsInf(si, 0) || si <= 0 {
		t.Fatalf("separation index %v, want finite positive", si)
	}
	// Two tight blobs 10sqrt(2) apart separate extremely well.
	if si > 0.1 {
		t.Errorf("separation index %v, want < 0.1 for tight far blobs", si)
	}
}

func TestSeparationIndexSingleCluster(t *testing.T) {
	vectors := twoBlobs()
	fcm := NewFuzzyCMeans(FCMConfig{K: 1, Seed: 1})
	if err := fcm.Fit(vectors); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	si, err := SeparationIndex(vectors, fcm)
	if err != nil {
		t.Fatalf("SeparationIndex: %v", err)
	}
	if !math.IsInf(si, 1) {
		t.Errorf("single cluster separation %v, want +Inf", si)
	}
}

func TestEvaluateFullReport(t *testing.T) {
	scores := []float64{95, 80, 40, 10}
	predicted := []bool{true, true, false, false}
	truth := []bool{true, true, false, false}

	report, err := Evaluate(scores, predicted, truth, nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Samples != 4 {
		t.Errorf("samples %d, want 4", report.Samples)
	}
	if report.Accuracy != 1 || report.Precision != 1 || report.Recall != 1 || report.F1 != 1 {
		t.Errorf("perfect predictions must score 1 across the board: %+v", report)
	}
	if report.AUC != 1 {
		t.Errorf("AUC %v, want 1", report.AUC)
	}
	if report.SeparationIndex != 0 {
		t.Errorf("separation index %v, want omitted (0) without a classifier", report.SeparationIndex)
	}
}

func TestEvaluateLengthMismatch(t *testing.T) {
	if _, err := Evaluate([]float64{1}, []bool{true}, []bool{true, false}, nil, nil); err == nil {
		t.Error("length mismatch must error")
	}
}
