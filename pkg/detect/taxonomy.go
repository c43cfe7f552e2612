package detect

// Threat category labels. The taxonomy is a fixed static input to the
// pipeline; it is never inferred from data.
const (
	CategoryMalware        = "Malware/Ransomware"
	CategoryExfiltration   = "Data Exfiltration"
	CategoryDDoS           = "DDoS/DoS Attack"
	CategoryReconnaissance = "Reconnaissance"
	CategoryInsider        = "Insider Threat"
)

// DefaultTaxonomy lists the known threat categories in severity order.
// Order matters: unmatched clusters during label alignment draw fresh
// labels from this list front to back.
func DefaultTaxonomy() []string {
	return []string{
		CategoryMalware,
		CategoryExfiltration,
		CategoryDDoS,
		CategoryReconnaissance,
		CategoryInsider,
	}
}

// severityWeights scales the fused risk contribution per category.
// Destructive and data-loss categories weigh highest, scanning lowest.
var severityWeights = map[string]float64{
	CategoryMalware:        1.5,
	CategoryExfiltration:   1.5,
	CategoryInsider:        1.3,
	CategoryDDoS:           1.2,
	CategoryReconnaissance: 0.8,
}

// SeverityWeight returns the static severity multiplier for a category.
// Unknown labels weigh 1.0.
func SeverityWeight(label string) float64 {
	if w, ok := severityWeights[label]; ok {
		return w
	}
	return 1.0
}
