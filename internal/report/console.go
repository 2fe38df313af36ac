// Package report renders estimation results for people: a French console
// summary and an xlsx workbook with the yearly price chart.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"estimateur/server/internal/dvf"
	"estimateur/server/internal/market"
	"estimateur/server/internal/models"
	"estimateur/server/internal/workflow"
)

const ruleWidth = 60

// Console writes human readable reports. Amounts are truncated to whole
// euros and grouped with French thousand separators.
type Console struct {
	w       io.Writer
	printer *message.Printer
}

func NewConsole(w io.Writer) *Console {
	return &Console{
		w:       w,
		printer: message.NewPrinter(language.French),
	}
}

func (c *Console) rule() {
	fmt.Fprintln(c.w, strings.Repeat("=", ruleWidth))
}

func (c *Console) euros(v float64) string {
	return c.printer.Sprintf("%d", int64(v))
}

// Header prints the banner. demo flags simulated data.
func (c *Console) Header(demo bool) {
	c.rule()
	fmt.Fprintln(c.w, "ESTIMATEUR IMMOBILIER")
	if demo {
		fmt.Fprintln(c.w, "Mode démonstration : données simulées")
	}
	c.rule()
	fmt.Fprintln(c.w)
}

func (c *Console) Property(p models.Property) {
	fmt.Fprintln(c.w, "BIEN À ESTIMER")
	fmt.Fprintf(c.w, "   Localisation : %s (%s)\n", p.City, p.InseeCode)
	fmt.Fprintf(c.w, "   Surface      : %s m²\n", c.printer.Sprint(p.LivingArea))
	fmt.Fprintf(c.w, "   Pièces       : %d\n", p.NumRooms)
	fmt.Fprintf(c.w, "   Standing     : %s\n", p.Standing)
	fmt.Fprintln(c.w)
}

func (c *Console) Market(stats *models.MarketStatistics) {
	fmt.Fprintln(c.w, "STATISTIQUES DU MARCHÉ")
	fmt.Fprintf(c.w, "Transactions : %d", stats.TransactionCount)
	if stats.Trimmed {
		fmt.Fprintf(c.w, " (%d valeurs extrêmes exclues)", stats.ExcludedCount)
	}
	fmt.Fprintln(c.w)
	fmt.Fprintf(c.w, "Prix min     : %s €/m²\n", c.euros(stats.MinPricePerSqm))
	fmt.Fprintf(c.w, "Prix max     : %s €/m²\n", c.euros(stats.MaxPricePerSqm))
	fmt.Fprintf(c.w, "Prix moyen   : %s €/m²\n", c.euros(stats.MeanPricePerSqm))
	fmt.Fprintf(c.w, "Médiane      : %s €/m²\n", c.euros(stats.MedianPricePerSqm))

	if len(stats.Evolution) > 0 {
		fmt.Fprintln(c.w)
		fmt.Fprintln(c.w, "ÉVOLUTION ANNUELLE")
		for _, y := range stats.Evolution {
			fmt.Fprintf(c.w, "   %d : %s €/m²\n", y.Year, c.euros(y.PricePerSqm))
		}
	}
	if change, ok := stats.AnnualChange(); ok {
		sign := "+"
		if change < 0 {
			sign = "-"
			change = -change
		}
		fmt.Fprintf(c.w, "Tendance     : %s%s €/m² par an\n", sign, c.euros(change))
	}
	fmt.Fprintln(c.w)
}

func (c *Console) Estimate(p models.Property, est *models.Estimate) {
	c.rule()
	fmt.Fprintln(c.w, "RÉSULTAT DE L'ESTIMATION")
	c.rule()
	fmt.Fprintf(c.w, "Prix de référence       : %s €/m²\n", c.euros(est.ReferencePricePerSqm))
	fmt.Fprintf(c.w, "Coefficient standing    : %s (%s)\n", c.printer.Sprint(est.Coefficient), p.Standing)
	fmt.Fprintf(c.w, "Prix ajusté             : %s €/m²\n", c.euros(est.AdjustedPricePerSqm))
	fmt.Fprintln(c.w)
	fmt.Fprintf(c.w, "VALEUR ESTIMÉE          : %s €\n", c.euros(est.Value))
	fmt.Fprintf(c.w, "   Fourchette basse (-5%%): %s €\n", c.euros(est.Low))
	fmt.Fprintf(c.w, "   Fourchette haute (+5%%): %s €\n", c.euros(est.High))
	c.rule()
}

// Report prints a complete successful run
func (c *Console) Report(r *workflow.Report) {
	c.Property(r.Property)
	c.Market(r.Stats)
	c.Estimate(r.Property, r.Estimate)
}

// Failure explains why no valuation was produced.
// It returns false when err is not an expected outcome.
func (c *Console) Failure(err error) bool {
	if ue, ok := dvf.IsUnavailable(err); ok {
		fmt.Fprintf(c.w, "Données indisponibles : %s\n", ue.Reason)
		c.hints()
		return true
	}
	if errors.Is(err, market.ErrNoData) {
		fmt.Fprintln(c.w, "Pas de données exploitables pour cette commune.")
		c.hints()
		return true
	}
	return false
}

func (c *Console) hints() {
	fmt.Fprintln(c.w, "Suggestions :")
	fmt.Fprintln(c.w, "   - Vérifiez que le code INSEE est correct")
	fmt.Fprintln(c.w, "   - Essayez une ville plus grande (ex : 33063 pour Bordeaux)")
	fmt.Fprintln(c.w, "   - Certaines petites communes n'ont pas assez de transactions")
}
