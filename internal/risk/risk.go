// Package risk maps a fused 0-100 score to a discrete risk level. The
// threshold table here is the single source of truth; every component that
// derives a level must go through Classify.
package risk

import "github.com/sentryhq/ueba/internal/models"

// Band lower bounds, inclusive. A score of exactly 75 is critical.
const (
	ThresholdCritical = 75.0
	ThresholdHigh     = 50.0
	ThresholdMedium   = 25.0
)

func Classify(score float64) models.RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return models.RiskCritical
	case score >= ThresholdHigh:
		return models.RiskHigh
	case score >= ThresholdMedium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
