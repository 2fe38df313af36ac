package models

import (
	"fmt"
	"strings"
	"time"
)

// Standing is the condition tier of a property, applied as a fixed multiplier
// on the market price per m².
type Standing int

const (
	StandingToRenovate Standing = iota
	StandingStandard
	StandingHighEnd
)

var standingCoefficients = [...]float64{
	StandingToRenovate: 0.85,
	StandingStandard:   1.00,
	StandingHighEnd:    1.20,
}

// Standings lists every standing in display order.
func Standings() []Standing {
	return []Standing{StandingStandard, StandingToRenovate, StandingHighEnd}
}

// String returns the French label of a Standing
func (s Standing) String() string {
	switch s {
	case StandingToRenovate:
		return "À rénover"
	case StandingStandard:
		return "Standard"
	case StandingHighEnd:
		return "Haut de gamme"
	default:
		return "unknown"
	}
}

// Slug returns the ASCII identifier used in flags, query strings and storage.
func (s Standing) Slug() string {
	switch s {
	case StandingToRenovate:
		return "a-renover"
	case StandingStandard:
		return "standard"
	case StandingHighEnd:
		return "haut-de-gamme"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the three known standings.
func (s Standing) Valid() bool {
	return s >= StandingToRenovate && s <= StandingHighEnd
}

// Coefficient returns the price multiplier bound to the standing.
func (s Standing) Coefficient() (float64, error) {
	if !s.Valid() {
		return 0, fmt.Errorf("unknown standing: %d", int(s))
	}
	return standingCoefficients[s], nil
}

// ParseStanding accepts either the slug or the French label, case-insensitively.
func ParseStanding(value string) (Standing, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, s := range Standings() {
		if v == s.Slug() || v == strings.ToLower(s.String()) {
			return s, nil
		}
	}
	switch v {
	case "a renover", "renovate", "to-renovate":
		return StandingToRenovate, nil
	case "high-end", "highend":
		return StandingHighEnd, nil
	}
	return 0, fmt.Errorf("unknown standing: %q", value)
}

func (s Standing) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown standing: %d", int(s))
	}
	return []byte(s.Slug()), nil
}

func (s *Standing) UnmarshalText(text []byte) error {
	parsed, err := ParseStanding(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Property is the subject property to estimate
type Property struct {
	InseeCode  string   `json:"insee_code"`
	City       string   `json:"city"`
	LivingArea float64  `json:"living_area"`
	NumRooms   int      `json:"num_rooms"`
	Standing   Standing `json:"standing"`
}

// Validate checks the fields the valuation depends on
func (p Property) Validate() error {
	if strings.TrimSpace(p.InseeCode) == "" {
		return fmt.Errorf("insee code is required")
	}
	if p.LivingArea <= 0 {
		return fmt.Errorf("living area must be positive, got %v", p.LivingArea)
	}
	if p.NumRooms < 0 {
		return fmt.Errorf("number of rooms must not be negative, got %d", p.NumRooms)
	}
	if !p.Standing.Valid() {
		return fmt.Errorf("unknown standing: %d", int(p.Standing))
	}
	return nil
}

// Estimate is the valuation of a Property against a reference market price.
type Estimate struct {
	ReferencePricePerSqm float64 `json:"reference_price_per_sqm"`
	Coefficient          float64 `json:"coefficient"`
	AdjustedPricePerSqm  float64 `json:"adjusted_price_per_sqm"`
	Value                float64 `json:"value"`
	Low                  float64 `json:"low"`
	High                 float64 `json:"high"`
}

// EstimateRecord is a stored estimate, as returned by the history endpoint.
type EstimateRecord struct {
	ID               string    `json:"id"`
	Property         Property  `json:"property"`
	Estimate         Estimate  `json:"estimate"`
	TransactionCount int       `json:"transaction_count"`
	CreatedAt        time.Time `json:"created_at"`
}
