package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"estimateur/server/internal/workflow"
)

const (
	summarySheet   = "Estimation"
	evolutionSheet = "Evolution"
)

// Workbook builds an xlsx export of a report: a summary sheet and a sheet of
// yearly means with a line chart.
func Workbook(r *workflow.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	if err := writeSummary(f, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeEvolution(f, r); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeSummary(f *excelize.File, r *workflow.Report) error {
	rows := [][]interface{}{
		{"Commune", r.Property.City},
		{"Code INSEE", r.Property.InseeCode},
		{"Surface (m²)", r.Property.LivingArea},
		{"Pièces", r.Property.NumRooms},
		{"Standing", r.Property.Standing.String()},
		{},
		{"Transactions", r.Stats.TransactionCount},
		{"Valeurs exclues", r.Stats.ExcludedCount},
		{"Prix min (€/m²)", r.Stats.MinPricePerSqm},
		{"Prix max (€/m²)", r.Stats.MaxPricePerSqm},
		{"Prix moyen (€/m²)", r.Stats.MeanPricePerSqm},
		{"Médiane (€/m²)", r.Stats.MedianPricePerSqm},
		{},
		{"Base de référence", string(r.Basis)},
		{"Prix de référence (€/m²)", r.Estimate.ReferencePricePerSqm},
		{"Coefficient", r.Estimate.Coefficient},
		{"Prix ajusté (€/m²)", r.Estimate.AdjustedPricePerSqm},
		{"Valeur estimée (€)", r.Estimate.Value},
		{"Fourchette basse (€)", r.Estimate.Low},
		{"Fourchette haute (€)", r.Estimate.High},
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 28)
}

func writeEvolution(f *excelize.File, r *workflow.Report) error {
	if _, err := f.NewSheet(evolutionSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := []interface{}{"Année", "Prix moyen (€/m²)", "Tendance (€/m²)"}
	if err := f.SetSheetRow(evolutionSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, y := range r.Stats.Evolution {
		row := []interface{}{y.Year, y.PricePerSqm}
		if r.Stats.Trend != nil {
			row = append(row, r.Stats.Trend.At(y.Year))
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(evolutionSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write year %d: %w", y.Year, err)
		}
	}

	n := len(r.Stats.Evolution)
	if n == 0 {
		return nil
	}

	ref := func(col string) string {
		return fmt.Sprintf("%s!$%s$2:$%s$%d", evolutionSheet, col, col, n+1)
	}
	series := []excelize.ChartSeries{{
		Name:       evolutionSheet + "!$B$1",
		Categories: ref("A"),
		Values:     ref("B"),
		Marker:     excelize.ChartMarker{Symbol: "circle", Size: 6},
	}}
	if r.Stats.Trend != nil {
		series = append(series, excelize.ChartSeries{
			Name:       evolutionSheet + "!$C$1",
			Categories: ref("A"),
			Values:     ref("C"),
			Line:       excelize.ChartLine{Width: 1.5},
		})
	}

	return f.AddChart(evolutionSheet, "E2", &excelize.Chart{
		Type:   excelize.Line,
		Series: series,
		Title:  []excelize.RichTextRun{{Text: fmt.Sprintf("Évolution du prix au m² - %s", r.Property.City)}},
		Legend: excelize.ChartLegend{Position: "bottom"},
		XAxis:  excelize.ChartAxis{MajorGridLines: true},
		YAxis:  excelize.ChartAxis{MajorGridLines: true},
	})
}

// SaveWorkbook writes the report workbook to path
func SaveWorkbook(r *workflow.Report, path string) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// WriteWorkbook streams the report workbook to w
func WriteWorkbook(r *workflow.Report, w io.Writer) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
