package detect

import "sort"

// AnomalySummary aggregates one batch's verdicts for dashboards and alerts.
type AnomalySummary struct {
	TotalEvents      int               `json:"total_events"`
	TotalAnomalies   int               `json:"total_anomalies"`
	AnomalyRate      float64           `json:"anomaly_rate"` // percent
	RiskDistribution map[RiskLevel]int `json:"risk_distribution"`
	AvgAnomalyScore  float64           `json:"avg_anomaly_score"`
	MaxAnomalyScore  float64           `json:"max_anomaly_score"`
}

// Summarize aggregates the batch results.
func Summarize(results []FusedResult) AnomalySummary {
	s := AnomalySummary{
		RiskDistribution: map[RiskLevel]int{RiskLow: 0, RiskMedium: 0, RiskHigh: 0, RiskCritical: 0},
	}
	var sum float64
	for i := range results {
		r := &results[i]
		s.TotalEvents++
		if r.IsAnomaly {
			s.TotalAnomalies++
		}
		s.RiskDistribution[r.RiskLevel]++
		sum += r.AnomalyScore
		if r.AnomalyScore > s.MaxAnomalyScore {
			s.MaxAnomalyScore = r.AnomalyScore
		}
	}
	if s.TotalEvents > 0 {
		s.AnomalyRate = float64(s.TotalAnomalies) / float64(s.TotalEvents) * 100
		s.AvgAnomalyScore = sum / float64(s.TotalEvents)
	}
	return s
}

// CategoryShare is one category's slice of the clustered anomalies.
type CategoryShare struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ClusterSummary aggregates the category distribution of flagged anomalies.
type ClusterSummary struct {
	TotalAnomalies int             `json:"total_anomalies"`
	Distribution   []CategoryShare `json:"distribution"`
	DominantThreat string          `json:"dominant_threat,omitempty"`
	AvgConfidence  float64         `json:"avg_confidence"`
}

// SummarizeClusters aggregates per-category counts over anomalous results.
func SummarizeClusters(results []FusedResult) ClusterSummary {
	counts := map[string]int{}
	var confSum float64
	var anomalies int
	for i := range results {
		r := &results[i]
		if !r.IsAnomaly || r.PrimaryCategory == "" {
			continue
		}
		anomalies++
		counts[r.PrimaryCategory]++
		confSum += r.Confidence
	}

	s := ClusterSummary{TotalAnomalies: anomalies}
	if anomalies == 0 {
		return s
	}
	s.AvgConfidence = confSum / float64(anomalies)

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	best := 0
	for _, label := range labels {
		n := counts[label]
		s.Distribution = append(s.Distribution, CategoryShare{
			Category:   label,
			Count:      n,
			Percentage: float64(n) / float64(anomalies) * 100,
		})
		if n > best {
			best = n
			s.DominantThreat = label
		}
	}
	return s
}

// TopAnomalies returns the n highest-risk results, ties broken by event id
// for determinism.
func TopAnomalies(results []FusedResult, n int) []FusedResult {
	sorted := append([]FusedResult(nil), results...)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].CombinedRisk != sorted[b].CombinedRisk {
			return sorted[a].CombinedRisk > sorted[b].CombinedRisk
		}
		return sorted[a].EventID < sorted[b].EventID
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
