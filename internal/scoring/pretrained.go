package scoring

import (
	"math"

	"github.com/sentryhq/ueba/internal/features"
)

// PretrainedEnsemble holds the frozen parameters of the three scoring
// functions, exported from the offline training pipeline. The coefficient
// tables are fixed per feature schema version; retraining produces a new
// table, never an in-process update.
type PretrainedEnsemble struct{}

func NewPretrainedEnsemble() *PretrainedEnsemble {
	return &PretrainedEnsemble{}
}

// featureScale divides raw feature values into the range the frozen
// coefficients were fitted against. Order matches features.Names.
var featureScale = [...]float64{
	4,    // role_encoded
	23,   // logon_hour
	20,   // logon_count
	3,    // geo_anomaly
	50,   // file_accesses
	10,   // sensitive_file_access
	1000, // file_download_size_mb
	50,   // emails_sent
	25,   // external_emails
	5,    // large_attachments
	10,   // suspicious_keywords
	1,    // off_hours
	10,   // file_to_email_ratio
	1,    // external_email_ratio
	1,    // sensitive_access_rate
	20,   // logon_count_ma7
	50,   // file_accesses_ma7
	50,   // emails_ma7
}

var classifierCoef = [...]float64{
	0.15, -0.40, 0.30, 2.10,
	0.55, 2.40, 1.80,
	0.25, 1.20, 1.50, 2.00,
	1.60, 0.45, 1.30, 1.90,
	0.20, 0.35, 0.15,
}

const classifierBias = -2.30

var secondaryCoef = [...]float64{
	0.10, -0.30, 0.40, 1.80,
	0.70, 2.10, 1.60,
	0.35, 1.00, 1.30, 1.70,
	1.40, 0.60, 1.10, 1.60,
	0.30, 0.45, 0.25,
}

const secondaryBias = -2.10

// anomalyCoef weights deviations for the unsupervised detector. Output is
// a raw score centered below zero for normal windows; Normalize maps it
// into [0,1].
var anomalyCoef = [...]float64{
	0.05, 0.10, 0.15, 0.60,
	0.20, 0.55, 0.50,
	0.10, 0.30, 0.40, 0.50,
	0.45, 0.15, 0.35, 0.50,
	0.10, 0.15, 0.10,
}

const anomalyBase = -0.45

func (p *PretrainedEnsemble) ClassifierProba(v features.Vector) (float64, error) {
	return sigmoid(dot(v, classifierCoef[:]) + classifierBias), nil
}

func (p *PretrainedEnsemble) SecondaryProba(v features.Vector) (float64, error) {
	return sigmoid(dot(v, secondaryCoef[:]) + secondaryBias), nil
}

func (p *PretrainedEnsemble) AnomalyScore(v features.Vector) (float64, error) {
	return anomalyBase + dot(v, anomalyCoef[:]), nil
}

func dot(v features.Vector, coef []float64) float64 {
	values := v.Slice()
	var sum float64
	for i, val := range values {
		scaled := val / featureScale[i]
		if scaled > 1 {
			scaled = 1
		}
		sum += scaled * coef[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
