// Package yield estimates the percentage of harvest lost to a detected disease.
package yield

import (
	"math"

	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/errors"
)

// Estimate is the response of one yield-loss calculation.
type Estimate struct {
	Disease  string  `json:"disease"`
	BaseLoss float64 `json:"base_loss"`
	LossPct  float64 `json:"estimated_yield_loss_pct"`
}

// Estimator applies the catalog base-loss table.
type Estimator struct {
	cat *catalog.Catalog
}

// NewEstimator returns an estimator over cat, or the embedded catalog when nil.
func NewEstimator(cat *catalog.Catalog) *Estimator {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Estimator{cat: cat}
}

// Estimate returns base_loss(disease) × confidence as a percentage rounded to
// two decimals. The disease name must match a catalog key exactly; anything
// else uses the catalog default.
func (e *Estimator) Estimate(disease string, confidence float64) (Estimate, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Estimate{}, errors.Newf("confidence %g outside [0,1]", confidence).
			Component("yield").
			Category(errors.CategoryValidation).
			Context("disease", disease).
			Build()
	}

	base := e.BaseLoss(disease)
	return Estimate{
		Disease:  disease,
		BaseLoss: base,
		LossPct:  round2(base * confidence * 100),
	}, nil
}

// BaseLoss returns the fractional loss at full severity for disease.
func (e *Estimator) BaseLoss(disease string) float64 {
	return e.cat.BaseLossFor(disease)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
