package detect

import (
	"fmt"
	"math"
	"sort"
)

// Offline evaluation against a labeled benchmark set. Nothing here runs on
// the live scoring path or mutates pipeline state.

// ConfusionMatrix counts binary detection outcomes (positive = attack).
type ConfusionMatrix struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

func (c ConfusionMatrix) Accuracy() float64 {
	total := c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(c.TruePositives+c.TrueNegatives) / float64(total)
}

func (c ConfusionMatrix) Precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

func (c ConfusionMatrix) Recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// CurvePoint is one operating point of a ROC or precision-recall curve.
type CurvePoint struct {
	Threshold float64 `json:"threshold"`
	X         float64 `json:"x"` // ROC: false-positive rate; PR: recall
	Y         float64 `json:"y"` // ROC: true-positive rate; PR: precision
}

// EvaluationReport bundles the offline accuracy metrics.
type EvaluationReport struct {
	Samples         int             `json:"samples"`
	Confusion       ConfusionMatrix `json:"confusion_matrix"`
	Accuracy        float64         `json:"accuracy"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1              float64         `json:"f1_score"`
	AUC             float64         `json:"auc_roc"`
	ROC             []CurvePoint    `json:"roc_curve"`
	PRCurve         []CurvePoint    `json:"pr_curve"`
	SeparationIndex float64         `json:"separation_index,omitempty"`
}

// Confusion tallies predicted against ground-truth labels.
func Confusion(predicted, truth []bool) (ConfusionMatrix, error) {
	if len(predicted) != len(truth) {
		return ConfusionMatrix{}, fmt.Errorf("confusion: %d predictions vs %d labels", len(predicted), len(truth))
	}
	var c ConfusionMatrix
	for i := range predicted {
		switch {
		case predicted[i] && truth[i]:
			c.TruePositives++
		case predicted[i] && !truth[i]:
			c.FalsePositives++
		case !predicted[i] && truth[i]:
			c.FalseNegatives++
		default:
			c.TrueNegatives++
		}
	}
	return c, nil
}

// ROCCurve sweeps every distinct score as a threshold, highest first, and
// returns (FPR, TPR) points plus the trapezoidal AUC.
func ROCCurve(scores []float64, truth []bool) ([]CurvePoint, float64) {
	order := scoreOrder(scores)
	pos, neg := classCounts(truth)
	points := []CurvePoint{{Threshold: math.Inf(1), X: 0, Y: 0}}

	tp, fp := 0, 0
	auc := 0.0
	prevX, prevY := 0.0, 0.0
	for i := 0; i < len(order); {
		// all samples sharing a score move together
		s := scores[order[i]]
		for i < len(order) && scores[order[i]] == s {
			if truth[order[i]] {
				tp++
			} else {
				fp++
			}
			i++
		}
		x := rate(fp, neg)
		y := rate(tp, pos)
		points = append(points, CurvePoint{Threshold: s, X: x, Y: y})
		auc += (x - prevX) * (y + prevY) / 2
		prevX, prevY = x, y
	}
	return points, auc
}

// PrecisionRecallCurve sweeps thresholds highest first and returns
// (recall, precision) points.
func PrecisionRecallCurve(scores []float64, truth []bool) []CurvePoint {
	order := scoreOrder(scores)
	pos, _ := classCounts(truth)
	points := []CurvePoint{{Threshold: math.Inf(1), X: 0, Y: 1}}

	tp, fp := 0, 0
	for i := 0; i < len(order); {
		s := scores[order[i]]
		for i < len(order) && scores[order[i]] == s {
			if truth[order[i]] {
				tp++
			} else {
				fp++
			}
			i++
		}
		precision := 1.0
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		points = append(points, CurvePoint{Threshold: s, X: rate(tp, pos), Y: precision})
	}
	return points
}

// SeparationIndex computes the Xie-Beni index for a fitted classifier over
// the vectors it clustered: membership-weighted within-cluster scatter over
// the minimum squared inter-centroid distance, normalized by sample count.
// Lower means better separated clusters.
func SeparationIndex(vectors []FeatureVector, fcm *FuzzyCMeans) (float64, error) {
	if !fcm.Fitted {
		return 0, fmt.Errorf("separation index: %w", ErrNotFitted)
	}
	if len(vectors) == 0 {
		return 0, fmt.Errorf("separation index: %w", ErrInsufficientData)
	}
	var scatter float64
	for _, x := range vectors {
		u, err := fcm.Predict(x)
		if err != nil {
			return 0, err
		}
		for j, c := range fcm.Centroids {
			d := euclidean(x, c)
			scatter += math.Pow(u[j], fcm.Config.Fuzziness) * d * d
		}
	}
	minSep := math.Inf(1)
	for j := 0; j < len(fcm.Centroids); j++ {
		for l := j + 1; l < len(fcm.Centroids); l++ {
			d := euclidean(fcm.Centroids[j], fcm.Centroids[l])
			if d*d < minSep {
				minSep = d * d
			}
		}
	}
	if math.IsInf(minSep, 1) || minSep == 0 {
		return math.Inf(1), nil // a single or fully collapsed clustering never separates
	}
	return scatter / (float64(len(vectors)) * minSep), nil
}

// Evaluate computes the full benchmark report from already-computed
// predictions. The separation index is included when a fitted classifier
// and its clustered vectors are supplied; pass nil to skip it.
func Evaluate(scores []float64, predicted, truth []bool, clustered []FeatureVector, fcm *FuzzyCMeans) (*EvaluationReport, error) {
	if len(scores) != len(truth) || len(predicted) != len(truth) {
		return nil, fmt.Errorf("evaluate: scores/predictions/labels length mismatch (%d/%d/%d)",
			len(scores), len(predicted), len(truth))
	}
	cm, err := Confusion(predicted, truth)
	if err != nil {
		return nil, err
	}
	roc, auc := ROCCurve(scores, truth)
	report := &EvaluationReport{
		Samples:   len(truth),
		Confusion: cm,
		Accuracy:  cm.Accuracy(),
		Precision: cm.Precision(),
		Recall:    cm.Recall(),
		F1:        cm.F1(),
		AUC:       auc,
		ROC:       roc,
		PRCurve:   PrecisionRecallCurve(scores, truth),
	}
	if fcm != nil && fcm.Fitted && len(clustered) > 0 {
		si, err := SeparationIndex(clustered, fcm)
		if err != nil {
			return nil, err
		}
		report.SeparationIndex = si
	}
	return report, nil
}

func scoreOrder(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	return order
}

func classCounts(truth []bool) (pos, neg int) {
	for _, t := range truth {
		if t {
			pos++
		} else {
			neg++
		}
	}
	return
}

func rate(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}
