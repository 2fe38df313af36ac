package models

// YearlyMean is the mean price per m² of the transactions of one calendar year.
type YearlyMean struct {
	Year        int     `json:"year"`
	PricePerSqm float64 `json:"price_per_sqm"`
}

// TrendLine is a least-squares fit of yearly means against the year.
type TrendLine struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// At evaluates the line for a given year.
func (t TrendLine) At(year int) float64 {
	return t.Intercept + t.Slope*float64(year)
}

// MarketStatistics summarises the price per m² of a set of transactions.
// Trend is nil when fewer than two distinct years are present.
type MarketStatistics struct {
	MinPricePerSqm    float64      `json:"min_price_per_sqm"`
	MaxPricePerSqm    float64      `json:"max_price_per_sqm"`
	MeanPricePerSqm   float64      `json:"mean_price_per_sqm"`
	MedianPricePerSqm float64      `json:"median_price_per_sqm"`
	TransactionCount  int          `json:"transaction_count"`
	ExcludedCount     int          `json:"excluded_count"`
	Trimmed           bool         `json:"trimmed"`
	Evolution         []YearlyMean `json:"evolution"`
	Trend             *TrendLine   `json:"trend,omitempty"`
}

// AnnualChange returns the trend slope, the estimated price change per year.
func (m *MarketStatistics) AnnualChange() (float64, bool) {
	if m == nil || m.Trend == nil {
		return 0, false
	}
	return m.Trend.Slope, true
}

// Period returns the first and last year covered by Evolution.
func (m *MarketStatistics) Period() (int, int) {
	if m == nil || len(m.Evolution) == 0 {
		return 0, 0
	}
	return m.Evolution[0].Year, m.Evolution[len(m.Evolution)-1].Year
}
