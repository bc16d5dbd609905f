// Package scoring fuses the three frozen model outputs into the 0-100
// Insider Threat Score.
package scoring

import (
	"fmt"
	"log/slog"

	"github.com/sentryhq/ueba/internal/features"
	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/risk"
)

// Models is the contract the scorer holds against the three pre-trained
// scoring functions. Each must be a pure function of the feature vector.
type Models interface {
	// ClassifierProba returns the primary supervised model's threat
	// probability in [0,1].
	ClassifierProba(v features.Vector) (float64, error)
	// SecondaryProba returns the secondary supervised model's threat
	// probability in [0,1].
	SecondaryProba(v features.Vector) (float64, error)
	// AnomalyScore returns the unsupervised detector's raw score. The
	// range is unbounded; Normalize maps it into [0,1].
	AnomalyScore(v features.Vector) (float64, error)
}

// Weights is the fixed fusion rule. The supervised primary model dominates
// while the unsupervised detector contributes a minority vote. These values
// must be reproduced exactly for score compatibility.
type Weights struct {
	Classifier float64
	Secondary  float64
	Anomaly    float64
}

var DefaultWeights = Weights{
	Classifier: 0.50,
	Secondary:  0.30,
	Anomaly:    0.20,
}

const (
	// Floor rule: any user with activity scores at least this baseline
	// plus a small per-activity increment.
	floorScore         = 8.0
	floorPerActivity   = 0.1
	maxScore           = 100.0
	sensitiveThreshold = 5.0
	downloadAlertMB    = 500.0
)

type Scorer struct {
	models  Models
	weights Weights
	logger  *slog.Logger
}

type ScorerOption func(*Scorer)

func WithLogger(logger *slog.Logger) ScorerOption {
	return func(s *Scorer) {
		s.logger = logger
	}
}

func WithWeights(w Weights) ScorerOption {
	return func(s *Scorer) {
		s.weights = w
	}
}

func NewScorer(m Models, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		models:  m,
		weights: DefaultWeights,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize maps the anomaly detector's raw output into [0,1].
func Normalize(x float64) float64 {
	return clamp((x+0.5)/1.0, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Score runs the full fusion for one feature vector. activityCount is the
// number of events in the scoring window, used by the floor rule. A failure
// from any model fails the whole attempt; a partial ensemble would silently
// change the score's meaning.
func (s *Scorer) Score(v features.Vector, activityCount int) (models.ScoreResult, error) {
	classifierProba, err := s.models.ClassifierProba(v)
	if err != nil {
		return models.ScoreResult{}, &models.ScoringUnavailableError{Model: "classifier", Err: err}
	}
	secondaryProba, err := s.models.SecondaryProba(v)
	if err != nil {
		return models.ScoreResult{}, &models.ScoringUnavailableError{Model: "secondary", Err: err}
	}
	anomalyRaw, err := s.models.AnomalyScore(v)
	if err != nil {
		return models.ScoreResult{}, &models.ScoringUnavailableError{Model: "anomaly", Err: err}
	}

	anomalyNorm := Normalize(anomalyRaw)
	ensemble := classifierProba*s.weights.Classifier +
		secondaryProba*s.weights.Secondary +
		anomalyNorm*s.weights.Anomaly

	itsScore := ensemble * 100

	if itsScore < floorScore && activityCount > 0 {
		itsScore = floorScore + floorPerActivity*float64(activityCount)
	}
	itsScore = clamp(itsScore, 0, maxScore)

	result := models.ScoreResult{
		ITSScore:    itsScore,
		RiskLevel:   risk.Classify(itsScore),
		Anomalies:   detectAnomalies(v),
		Explanation: explain(itsScore, classifierProba, anomalyNorm, detectAnomalies(v)),
	}

	s.logger.Debug("score computed",
		"its_score", itsScore,
		"risk_level", result.RiskLevel,
		"classifier_proba", classifierProba,
		"secondary_proba", secondaryProba,
		"anomaly_norm", anomalyNorm)

	return result, nil
}

// Confidence converts an ITS score back into the [0,1] ensemble confidence
// used by the alert entry condition.
func Confidence(itsScore float64) float64 {
	return itsScore / 100
}

// detectAnomalies derives the ordered human-readable anomaly list from the
// feature vector.
func detectAnomalies(v features.Vector) []string {
	var anomalies []string

	if v.OffHours == 1 {
		anomalies = append(anomalies, "Off-hours activity detected")
	}
	if v.GeoAnomaly > 0 {
		anomalies = append(anomalies, "Geographically impossible login")
	}
	if v.SensitiveAccess >= sensitiveThreshold {
		anomalies = append(anomalies, fmt.Sprintf("High sensitive file access (%d files)", int(v.SensitiveAccess)))
	}
	if v.ExternalEmailRatio > 0.5 {
		anomalies = append(anomalies, fmt.Sprintf("High external email ratio (%.0f%%)", v.ExternalEmailRatio*100))
	}
	if v.LargeAttachments > 2 {
		anomalies = append(anomalies, fmt.Sprintf("Multiple large attachments (%d)", int(v.LargeAttachments)))
	}
	if v.SuspiciousKeywords > 0 {
		anomalies = append(anomalies, "Suspicious keywords in emails")
	}
	if v.DownloadSizeMB > downloadAlertMB {
		anomalies = append(anomalies, fmt.Sprintf("Large data download (%.0f MB)", v.DownloadSizeMB))
	}

	return anomalies
}

func explain(itsScore, classifierProba, anomalyNorm float64, anomalies []string) string {
	var topFactors []string
	if classifierProba > 0.6 {
		topFactors = append(topFactors, fmt.Sprintf("Classification model confidence: %.0f%%", classifierProba*100))
	}
	if anomalyNorm > 0.7 {
		topFactors = append(topFactors, fmt.Sprintf("Anomaly score: %.0f%%", anomalyNorm*100))
	}
	if len(topFactors) > 2 {
		topFactors = topFactors[:2]
	}

	explanation := fmt.Sprintf("ITS Score: %.1f/100.", itsScore)
	for _, f := range topFactors {
		explanation += " " + f + "."
	}
	if len(anomalies) > 0 {
		top := anomalies
		if len(top) > 3 {
			top = top[:3]
		}
		explanation += " Key anomalies: "
		for i, a := range top {
			if i > 0 {
				explanation += ", "
			}
			explanation += a
		}
	}
	return explanation
}
