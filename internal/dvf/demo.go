package dvf

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"estimateur/server/internal/models"
)

// DemoSource generates a reproducible synthetic market: a base price per m²
// rising by a fixed amount each year, with gaussian noise.
type DemoSource struct {
	Seed         int64
	Count        int
	Start        time.Time
	Days         int
	BasePrice    float64
	AnnualGrowth float64
	Noise        float64
	MinArea      float64
	MaxArea      float64
}

// NewDemoSource returns 150 transactions over five years from 2019,
// starting at 2000 €/m² and gaining 100 €/m² per year.
func NewDemoSource() *DemoSource {
	return &DemoSource{
		Seed:         42,
		Count:        150,
		Start:        time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
		Days:         1825,
		BasePrice:    2000,
		AnnualGrowth: 100,
		Noise:        200,
		MinArea:      30,
		MaxArea:      150,
	}
}

func (d *DemoSource) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(d.Seed))
	types := []string{"Maison", "Appartement"}

	records := make([]models.Transaction, 0, d.Count)
	for i := 0; i < d.Count; i++ {
		date := d.Start.AddDate(0, 0, rng.Intn(d.Days))
		pricePerSqm := d.BasePrice + float64(date.Year()-d.Start.Year())*d.AnnualGrowth + rng.NormFloat64()*d.Noise
		area := d.MinArea + rng.Float64()*(d.MaxArea-d.MinArea)
		rooms := 1 + int(area/25)

		records = append(records, models.Transaction{
			MutationID:   fmt.Sprintf("demo-%s-%04d", inseeCode, i+1),
			InseeCode:    inseeCode,
			Date:         date,
			Price:        pricePerSqm * area,
			BuiltArea:    area,
			PropertyType: types[rng.Intn(len(types))],
			Rooms:        &rooms,
			Synthetic:    true,
		})
	}
	return records, nil
}
