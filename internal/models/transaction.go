package models

import (
	"math"
	"time"
)

// Transaction is one DVF sale line: a dated price for a built area.
type Transaction struct {
	MutationID   string    `json:"mutation_id"`
	InseeCode    string    `json:"insee_code"`
	Date         time.Time `json:"date"`
	Price        float64   `json:"price"`
	BuiltArea    float64   `json:"built_area"`
	PropertyType string    `json:"property_type"`
	Rooms        *int      `json:"rooms"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`

	// Synthetic marks generated records; they never reach the archive
	Synthetic bool `json:"synthetic,omitempty"`
}

// PricePerSqm returns Price / BuiltArea. ok is false when the ratio is undefined
// or the record carries a negative, NaN or infinite value.
func (t Transaction) PricePerSqm() (float64, bool) {
	if !isUsable(t.Price) || !isUsable(t.BuiltArea) || t.BuiltArea <= 0 {
		return 0, false
	}
	ratio := t.Price / t.BuiltArea
	if math.IsInf(ratio, 0) {
		return 0, false
	}
	return ratio, true
}

// Location returns the sale's coordinates when the row carried them
func (t Transaction) Location() (lat, lon float64, ok bool) {
	if t.Latitude == nil || t.Longitude == nil {
		return 0, 0, false
	}
	return *t.Latitude, *t.Longitude, true
}

func isUsable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
