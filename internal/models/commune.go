package models

// Commune identifies a French municipality by its INSEE code
type Commune struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	PostalCodes []string `json:"postal_codes,omitempty"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}
