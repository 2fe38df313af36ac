// Package valuation turns a market price per m² into an estimate for a property.
package valuation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"estimateur/server/internal/models"
)

// Basis selects which market figure is used as the reference price per m².
type Basis string

const (
	BasisMean  Basis = "mean"
	BasisTrend Basis = "trend"
)

var (
	bandLow  = decimal.RequireFromString("0.95")
	bandHigh = decimal.RequireFromString("1.05")
)

// ParseBasis maps a flag or query value to a Basis; empty means BasisMean.
func ParseBasis(value string) (Basis, error) {
	switch Basis(strings.ToLower(strings.TrimSpace(value))) {
	case "", BasisMean:
		return BasisMean, nil
	case BasisTrend:
		return BasisTrend, nil
	default:
		return "", fmt.Errorf("unknown valuation basis: %q", value)
	}
}

// ReferencePrice picks the reference price per m² from stats.
// BasisTrend projects the trend line onto the latest observed year and
// falls back to the mean when no trend is available.
func ReferencePrice(stats *models.MarketStatistics, basis Basis) float64 {
	if basis == BasisTrend && stats.Trend != nil {
		_, last := stats.Period()
		if projected := stats.Trend.At(last); projected > 0 {
			return projected
		}
	}
	return stats.MeanPricePerSqm
}

// Compute applies the standing coefficient and the property area to the
// reference price and derives a ±5% band around the value.
func Compute(reference float64, standing models.Standing, area float64) (*models.Estimate, error) {
	coefficient, err := standing.Coefficient()
	if err != nil {
		return nil, err
	}
	if area <= 0 {
		return nil, fmt.Errorf("living area must be positive, got %v", area)
	}
	if reference < 0 {
		return nil, fmt.Errorf("reference price must not be negative, got %v", reference)
	}

	ref := decimal.NewFromFloat(reference)
	adjusted := ref.Mul(decimal.NewFromFloat(coefficient))
	value := adjusted.Mul(decimal.NewFromFloat(area))

	return &models.Estimate{
		ReferencePricePerSqm: reference,
		Coefficient:          coefficient,
		AdjustedPricePerSqm:  adjusted.InexactFloat64(),
		Value:                value.InexactFloat64(),
		Low:                  value.Mul(bandLow).InexactFloat64(),
		High:                 value.Mul(bandHigh).InexactFloat64(),
	}, nil
}
