package dvf

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"estimateur/server/internal/models"
)

const (
	natureSale = "Vente"

	colMutationID   = "id_mutation"
	colDate         = "date_mutation"
	colNature       = "nature_mutation"
	colPrice        = "valeur_fonciere"
	colInseeCode    = "code_commune"
	colPropertyType = "type_local"
	colBuiltArea    = "surface_reelle_bati"
	colRooms        = "nombre_pieces_principales"
	colLatitude     = "latitude"
	colLongitude    = "longitude"
)

var residentialTypes = map[string]bool{
	"Maison":      true,
	"Appartement": true,
}

// ParseStats counts the rows seen at each filtering step.
type ParseStats struct {
	Rows        int
	Sales       int
	Residential int
	Usable      int
}

// ParseCSV reads a geo-dvf commune file and keeps residential sales with a
// parseable date, price and positive built area.
func ParseCSV(r io.Reader) ([]models.Transaction, ParseStats, error) {
	var stats ParseStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	headers, err := reader.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{colDate, colNature, colPrice, colPropertyType, colBuiltArea} {
		if _, ok := index[required]; !ok {
			return nil, stats, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []models.Transaction
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue // skip malformed rows
			}
			return nil, stats, fmt.Errorf("failed to read CSV row: %w", err)
		}
		stats.Rows++

		if field(row, colNature) != natureSale {
			continue
		}
		stats.Sales++

		propertyType := field(row, colPropertyType)
		if !residentialTypes[propertyType] {
			continue
		}
		stats.Residential++

		date, err := time.Parse("2006-01-02", field(row, colDate))
		if err != nil {
			continue
		}
		price, ok := parseNumber(field(row, colPrice))
		if !ok {
			continue
		}
		area, ok := parseNumber(field(row, colBuiltArea))
		if !ok || area <= 0 {
			continue
		}

		t := models.Transaction{
			MutationID:   field(row, colMutationID),
			InseeCode:    field(row, colInseeCode),
			Date:         date,
			Price:        price,
			BuiltArea:    area,
			PropertyType: propertyType,
		}
		if rooms, err := strconv.Atoi(field(row, colRooms)); err == nil {
			t.Rooms = &rooms
		}
		lat, latOK := parseCoordinate(field(row, colLatitude), 90)
		lon, lonOK := parseCoordinate(field(row, colLongitude), 180)
		if latOK && lonOK {
			t.Latitude, t.Longitude = &lat, &lon
		}

		records = append(records, t)
		stats.Usable++
	}

	return records, stats, nil
}

// parseNumber accepts both "185000.5" and the comma-decimal "185000,50".
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

func parseCoordinate(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}
