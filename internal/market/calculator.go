// Package market derives price-per-m² statistics from DVF transactions.
package market

import (
	"errors"
	"sort"

	"estimateur/server/internal/models"
)

// ErrNoData is returned when no transaction with a usable price and a
// positive built area is available.
var ErrNoData = errors.New("no usable transaction data")

const (
	DefaultLowerQuantile = 0.05
	DefaultUpperQuantile = 0.95
)

// Options controls outlier trimming.
type Options struct {
	TrimOutliers  bool
	LowerQuantile float64
	UpperQuantile float64
}

// DefaultOptions trims the 5% cheapest and 5% most expensive transactions.
func DefaultOptions() Options {
	return Options{
		TrimOutliers:  true,
		LowerQuantile: DefaultLowerQuantile,
		UpperQuantile: DefaultUpperQuantile,
	}
}

type sample struct {
	year        int
	pricePerSqm float64
}

// Analyze computes market statistics over records. Records with a non-positive
// built area or an invalid price are ignored; if none remain, ErrNoData is returned.
func Analyze(records []models.Transaction, opts Options) (*models.MarketStatistics, error) {
	samples := make([]sample, 0, len(records))
	for _, r := range records {
		ppsqm, ok := r.PricePerSqm()
		if !ok {
			continue
		}
		samples = append(samples, sample{year: r.Date.Year(), pricePerSqm: ppsqm})
	}
	if len(samples) == 0 {
		return nil, ErrNoData
	}

	stats := &models.MarketStatistics{}
	if opts.TrimOutliers {
		if kept := trim(samples, opts); len(kept) >= 2 {
			stats.Trimmed = true
			stats.ExcludedCount = len(samples) - len(kept)
			samples = kept
		}
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.pricePerSqm
	}
	sorted := sortedCopy(values)

	stats.MinPricePerSqm = sorted[0]
	stats.MaxPricePerSqm = sorted[len(sorted)-1]
	stats.MeanPricePerSqm = clamp(mean(values), stats.MinPricePerSqm, stats.MaxPricePerSqm)
	stats.MedianPricePerSqm = median(sorted)
	stats.TransactionCount = len(samples)
	stats.Evolution = yearlyMeans(samples)

	if len(stats.Evolution) >= 2 {
		xs := make([]float64, len(stats.Evolution))
		ys := make([]float64, len(stats.Evolution))
		for i, ym := range stats.Evolution {
			xs[i] = float64(ym.Year)
			ys[i] = ym.PricePerSqm
		}
		if slope, intercept, ok := fitLine(xs, ys); ok {
			stats.Trend = &models.TrendLine{Slope: slope, Intercept: intercept}
		}
	}

	return stats, nil
}

// trim keeps the samples whose price per m² lies inside the inclusive quantile band.
func trim(samples []sample, opts Options) []sample {
	lowerQ, upperQ := opts.LowerQuantile, opts.UpperQuantile
	if lowerQ == 0 && upperQ == 0 {
		lowerQ, upperQ = DefaultLowerQuantile, DefaultUpperQuantile
	}
	if lowerQ > upperQ {
		lowerQ, upperQ = upperQ, lowerQ
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.pricePerSqm
	}
	sorted := sortedCopy(values)
	low := percentile(sorted, lowerQ)
	high := percentile(sorted, upperQ)

	kept := make([]sample, 0, len(samples))
	for _, s := range samples {
		if s.pricePerSqm >= low && s.pricePerSqm <= high {
			kept = append(kept, s)
		}
	}
	return kept
}

// clamp absorbs rounding that can push the mean of near-equal values past min or max.
func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func yearlyMeans(samples []sample) []models.YearlyMean {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, s := range samples {
		sums[s.year] += s.pricePerSqm
		counts[s.year]++
	}

	evolution := make([]models.YearlyMean, 0, len(sums))
	for year, sum := range sums {
		evolution = append(evolution, models.YearlyMean{
			Year:        year,
			PricePerSqm: sum / float64(counts[year]),
		})
	}
	sort.Slice(evolution, func(i, j int) bool {
		return evolution[i].Year < evolution[j].Year
	})
	return evolution
}
