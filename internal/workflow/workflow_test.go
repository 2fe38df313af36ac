package workflow

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"estimateur/server/internal/dvf"
	"estimateur/server/internal/market"
	"estimateur/server/internal/models"
	"estimateur/server/internal/queue"
	"estimateur/server/internal/valuation"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	args := m.Called(inseeCode)
	records, _ := args.Get(0).([]models.Transaction)
	return records, args.Error(1)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Push(batch []models.Transaction) error {
	args := m.Called(batch)
	return args.Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// flatMarket returns sales at exactly 2000 €/m² over two years.
func flatMarket() []models.Transaction {
	var records []models.Transaction
	for i, area := range []float64{40, 55, 75, 90, 120, 60} {
		records = append(records, models.Transaction{
			MutationID: string(rune('a' + i)),
			InseeCode:  "33114",
			Date:       time.Date(2022+i%2, time.March, 1, 0, 0, 0, 0, time.UTC),
			Price:      2000 * area,
			BuiltArea:  area,
		})
	}
	return records
}

func subject(standing models.Standing) models.Property {
	return models.Property{InseeCode: "33114", City: "Cavignac", LivingArea: 75, NumRooms: 3, Standing: standing}
}

func TestEstimator_ValuationScenarios(t *testing.T) {
	tests := []struct {
		name     string
		standing models.Standing
		value    float64
	}{
		{name: "standard", standing: models.StandingStandard, value: 150000},
		{name: "high end", standing: models.StandingHighEnd, value: 180000},
		{name: "to renovate", standing: models.StandingToRenovate, value: 127500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockSource{}
			source.On("Fetch", "33114").Return(flatMarket(), nil)

			e := NewEstimator(source, nil, Options{Analysis: market.DefaultOptions()}, quietLogger())
			report, err := e.Estimate(context.Background(), subject(tt.standing))
			require.NoError(t, err)

			assert.InDelta(t, 2000.0, report.Stats.MeanPricePerSqm, 1e-9)
			assert.InDelta(t, tt.value, report.Estimate.Value, 1e-6)
			assert.InDelta(t, tt.value*0.95, report.Estimate.Low, 1e-6)
			assert.InDelta(t, tt.value*1.05, report.Estimate.High, 1e-6)
			assert.Equal(t, valuation.BasisMean, report.Basis)
		})
	}
}

func TestEstimator_StandardBand(t *testing.T) {
	source := &MockSource{}
	source.On("Fetch", "33114").Return(flatMarket(), nil)

	report, err := NewEstimator(source, nil, Options{}, quietLogger()).Estimate(context.Background(), subject(models.StandingStandard))
	require.NoError(t, err)
	assert.InDelta(t, 142500.0, report.Estimate.Low, 1e-6)
	assert.InDelta(t, 157500.0, report.Estimate.High, 1e-6)
}

func TestEstimator_SourceUnavailable(t *testing.T) {
	source := &MockSource{}
	source.On("Fetch", "33114").Return(nil, &dvf.UnavailableError{Reason: "API non disponible (code 404)"})
	archive := &MockArchiver{}

	e := NewEstimator(source, archive, Options{}, quietLogger())
	report, err := e.Estimate(context.Background(), subject(models.StandingStandard))

	assert.Nil(t, report)
	ue, ok := dvf.IsUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, "API non disponible (code 404)", ue.Reason)
	archive.AssertNotCalled(t, "Push", mock.Anything)
}

func TestEstimator_NoData(t *testing.T) {
	source := &MockSource{}
	source.On("Fetch", "33114").Return([]models.Transaction{
		{InseeCode: "33114", Date: time.Now(), Price: 100000, BuiltArea: 0},
	}, nil)

	report, err := NewEstimator(source, nil, Options{}, quietLogger()).Estimate(context.Background(), subject(models.StandingStandard))
	assert.Nil(t, report)
	assert.ErrorIs(t, err, market.ErrNoData)
}

func TestEstimator_UnexpectedSourceError(t *testing.T) {
	source := &MockSource{}
	source.On("Fetch", "33114").Return(nil, errors.New("disk on fire"))

	_, err := NewEstimator(source, nil, Options{}, quietLogger()).Estimate(context.Background(), subject(models.StandingStandard))
	require.Error(t, err)
	_, unavailable := dvf.IsUnavailable(err)
	assert.False(t, unavailable)
	assert.NotErrorIs(t, err, market.ErrNoData)
}

func TestEstimator_InvalidProperty(t *testing.T) {
	source := &MockSource{}
	property := subject(models.StandingStandard)
	property.LivingArea = 0

	_, err := NewEstimator(source, nil, Options{}, quietLogger()).Estimate(context.Background(), property)
	assert.Error(t, err)
	source.AssertNotCalled(t, "Fetch", mock.Anything)
}

func TestEstimator_TrendBasis(t *testing.T) {
	var records []models.Transaction
	for year := 2019; year <= 2023; year++ {
		ppsqm := float64(2000 + 100*(year-2019))
		records = append(records, models.Transaction{
			InseeCode: "33114",
			Date:      time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
			Price:     ppsqm * 50,
			BuiltArea: 50,
		})
	}
	source := &MockSource{}
	source.On("Fetch", "33114").Return(records, nil)

	e := NewEstimator(source, nil, Options{}, quietLogger())
	report, err := e.EstimateWith(context.Background(), subject(models.StandingStandard), Options{Basis: valuation.BasisTrend})
	require.NoError(t, err)

	assert.InDelta(t, 2400.0, report.Estimate.ReferencePricePerSqm, 1e-6)
	assert.InDelta(t, 2400.0*75, report.Estimate.Value, 1e-4)
	assert.Equal(t, valuation.BasisTrend, report.Basis)
}

func TestEstimator_ArchivesFetchedRecords(t *testing.T) {
	records := flatMarket()
	source := &MockSource{}
	source.On("Fetch", "33114").Return(records, nil)
	archive := &MockArchiver{}
	archive.On("Push", records).Return(nil).Once()

	e := NewEstimator(source, archive, Options{}, quietLogger())
	_, err := e.Estimate(context.Background(), subject(models.StandingStandard))
	require.NoError(t, err)
	archive.AssertExpectations(t)
}

func TestEstimator_FullQueueDoesNotFailRun(t *testing.T) {
	source := &MockSource{}
	source.On("Fetch", "33114").Return(flatMarket(), nil)

	q := queue.NewTransactionQueue(1, quietLogger())
	defer q.Close()
	require.NoError(t, q.Push([]models.Transaction{{MutationID: "filler"}}))

	e := NewEstimator(source, q, Options{}, quietLogger())
	report, err := e.Estimate(context.Background(), subject(models.StandingStandard))
	require.NoError(t, err)
	assert.NotNil(t, report.Estimate)
}

func TestEstimator_Refresh(t *testing.T) {
	records := flatMarket()
	source := &MockSource{}
	source.On("Fetch", "33114").Return(records, nil)
	archive := &MockArchiver{}
	archive.On("Push", records).Return(nil)

	n, err := NewEstimator(source, archive, Options{}, quietLogger()).Refresh(context.Background(), "33114")
	require.NoError(t, err)
	assert.Equal(t, len(records), n)
	archive.AssertNumberOfCalls(t, "Push", 1)
}

func TestEstimator_DemoRecordsAreNotArchived(t *testing.T) {
	archive := &MockArchiver{}

	e := NewEstimator(dvf.NewDemoSource(), archive, Options{}, quietLogger())
	report, err := e.Estimate(context.Background(), subject(models.StandingStandard))
	require.NoError(t, err)
	assert.Equal(t, 150, report.Stats.TransactionCount)

	archive.AssertNotCalled(t, "Push", mock.Anything)
}

func TestEstimator_ArchivesOnlyRealRecords(t *testing.T) {
	genuine := flatMarket()
	mixed := append([]models.Transaction{{MutationID: "demo-1", InseeCode: "33114", Synthetic: true}}, genuine...)

	source := &MockSource{}
	source.On("Fetch", "33114").Return(mixed, nil)
	archive := &MockArchiver{}
	archive.On("Push", genuine).Return(nil).Once()

	_, err := NewEstimator(source, archive, Options{}, quietLogger()).Refresh(context.Background(), "33114")
	require.NoError(t, err)
	archive.AssertExpectations(t)
}

func TestEstimator_RefreshIgnoresFallback(t *testing.T) {
	remote := &MockSource{}
	remote.On("Fetch", "33114").Return(nil, &dvf.UnavailableError{Reason: "API non disponible (code 404)"})
	stored := &MockSource{}
	stored.On("Fetch", "33114").Return(flatMarket(), nil)
	archive := &MockArchiver{}

	source := &dvf.FallbackSource{Primary: remote, Secondary: stored, Logger: quietLogger()}
	e := NewEstimator(source, archive, Options{}, quietLogger())

	n, err := e.Refresh(context.Background(), "33114")
	assert.Equal(t, 0, n)
	ue, ok := dvf.IsUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, "API non disponible (code 404)", ue.Reason)
	stored.AssertNotCalled(t, "Fetch", mock.Anything)
	archive.AssertNotCalled(t, "Push", mock.Anything)

	// estimates still use the archive when the remote is down
	archive.On("Push", mock.Anything).Return(nil)
	report, err := e.Estimate(context.Background(), subject(models.StandingStandard))
	require.NoError(t, err)
	assert.InDelta(t, 150000.0, report.Estimate.Value, 1e-6)
}
