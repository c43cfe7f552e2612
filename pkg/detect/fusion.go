package detect

// RiskThresholds is the deterministic ladder over the combined risk score.
// Boundaries are inclusive on the upper bucket: 29 LOW, 30 MEDIUM, 69 MEDIUM,
// 70 HIGH, 89 HIGH, 90 CRITICAL. Downstream alerting fires on CRITICAL and
// the BLOCK decision, so these boundaries are contract, not implementation
// detail.
type RiskThresholds struct {
	Medium   float64 `json:"medium"`   // default 30
	High     float64 `json:"high"`     // default 70
	Critical float64 `json:"critical"` // default 90
}

// DefaultRiskThresholds returns the documented 30/70/90 ladder.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 30, High: 70, Critical: 90}
}

// Level buckets a combined risk score.
func (t RiskThresholds) Level(score float64) RiskLevel {
	switch {
	case score >= t.Critical:
		return RiskCritical
	case score >= t.High:
		return RiskHigh
	case score >= t.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Decision maps a combined risk score to the zero-trust action: BLOCK at the
// HIGH boundary, RESTRICT at MEDIUM, ALLOW below.
func (t RiskThresholds) Decision(score float64) AccessDecision {
	switch {
	case score >= t.High:
		return DecisionBlock
	case score >= t.Medium:
		return DecisionRestrict
	default:
		return DecisionAllow
	}
}

// RiskRanker fuses the anomaly score with the top cluster membership into a
// single combined risk value.
type RiskRanker struct {
	thresholds RiskThresholds
}

// NewRiskRanker creates a ranker with the given ladder.
func NewRiskRanker(t RiskThresholds) *RiskRanker {
	return &RiskRanker{thresholds: t}
}

// Rank combines one verdict with its cluster membership (nil for events
// that bypassed clustering). Non-anomalous events keep their low anomaly
// score as the combined risk, with no category and zero confidence.
// Anomalous events get a multiplicative fusion of anomaly score, top
// membership degree, and the category's static severity weight, clamped
// to [0,100].
func (r *RiskRanker) Rank(verdict AnomalyVerdict, membership *Membership) FusedResult {
	res := FusedResult{
		EventID:      verdict.EventID,
		AnomalyScore: verdict.AnomalyScore,
		IsAnomaly:    verdict.IsAnomaly,
		CombinedRisk: clamp(verdict.AnomalyScore, 0, 100),
	}
	if verdict.IsAnomaly && membership != nil {
		if label, deg := membership.TopCategory(); label != "" {
			res.PrimaryCategory = label
			res.Confidence = deg
			res.CombinedRisk = clamp(verdict.AnomalyScore*deg*SeverityWeight(label), 0, 100)
		}
	}
	res.RiskLevel = r.thresholds.Level(res.CombinedRisk)
	res.AccessDecision = r.thresholds.Decision(res.CombinedRisk)
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
