// Package detect implements the two-stage detection-and-classification
// pipeline: unsupervised anomaly scoring over network events, fuzzy
// clustering of the flagged anomalies into threat categories, and fusion
// of both signals into a single prioritized risk output.
package detect

import "time"

// EventRecord is one network/event record as supplied by the ingestion
// collaborator. Records are immutable once produced and consumed by value.
type EventRecord struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip,omitempty"`
	BytesIn   float64   `json:"bytes_in"`
	BytesOut  float64   `json:"bytes_out"`
	Packets   int       `json:"packets"`
	Duration  float64   `json:"duration"` // seconds
	DstPort   int       `json:"dst_port"`
	Protocol  string    `json:"protocol"`
	Service   string    `json:"service"`
}

// FeatureVector is a fixed-dimension numeric encoding of an EventRecord.
// The dimension is constant for a given encoder configuration.
type FeatureVector []float64

// RiskLevel is the discrete severity bucket of a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// AccessDecision is the zero-trust action derived from a risk score.
type AccessDecision string

const (
	DecisionAllow    AccessDecision = "ALLOW"
	DecisionRestrict AccessDecision = "RESTRICT"
	DecisionBlock    AccessDecision = "BLOCK"
)

// AnomalyVerdict is the scorer's output for one event. Verdicts are created
// once and never mutated; re-scoring produces a new verdict.
type AnomalyVerdict struct {
	EventID      string    `json:"event_id"`
	AnomalyScore float64   `json:"anomaly_score"` // 0..100, 100 = most anomalous
	IsAnomaly    bool      `json:"is_anomaly"`
	RiskLevel    RiskLevel `json:"risk_level"`
}

// Membership holds a point's fuzzy membership degrees. Degrees over all
// categories sum to 1 by construction. Exists only for anomalous events.
type Membership struct {
	EventID string             `json:"event_id"`
	Degrees map[string]float64 `json:"degrees"` // category label -> degree in [0,1]
}

// TopCategory returns the label with the highest membership degree and that
// degree. Ties break on the lexically smallest label so the result is
// deterministic.
func (m Membership) TopCategory() (string, float64) {
	best, bestDeg := "", -1.0
	for label, deg := range m.Degrees {
		if deg > bestDeg || (deg == bestDeg && label < best) {
			best, bestDeg = label, deg
		}
	}
	if bestDeg < 0 {
		return "", 0
	}
	return best, bestDeg
}

// Category is one threat category with its fitted centroid. Categories are
// recreated on every training run; the label aligner keeps labels stable
// across runs. Centroids are never averaged across runs.
type Category struct {
	ID       int           `json:"id"`
	Label    string        `json:"label"`
	Centroid FeatureVector `json:"centroid"`
}

// FusedResult is the final prioritized output for one event.
type FusedResult struct {
	EventID         string         `json:"event_id"`
	AnomalyScore    float64        `json:"anomaly_score"`
	IsAnomaly       bool           `json:"is_anomaly"`
	CombinedRisk    float64        `json:"combined_risk_score"` // 0..100
	RiskLevel       RiskLevel      `json:"risk_level"`
	AccessDecision  AccessDecision `json:"access_decision"`
	PrimaryCategory string         `json:"primary_category,omitempty"`
	Confidence      float64        `json:"confidence"` // 0..1
}
