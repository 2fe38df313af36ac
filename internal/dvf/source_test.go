package dvf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estimateur/server/internal/models"
)

type stubSource struct {
	records []models.Transaction
	err     error
	calls   int
}

func (s *stubSource) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	s.calls++
	return s.records, s.err
}

func TestFallbackSource(t *testing.T) {
	archived := []models.Transaction{{MutationID: "archived", Price: 1000, BuiltArea: 10}}

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubSource{records: []models.Transaction{{MutationID: "live"}}}
		secondary := &stubSource{records: archived}
		f := &FallbackSource{Primary: primary, Secondary: secondary, Logger: quietLogger()}

		records, err := f.Fetch(context.Background(), "33063")
		require.NoError(t, err)
		assert.Equal(t, "live", records[0].MutationID)
		assert.Equal(t, 0, secondary.calls)
	})

	t.Run("primary unavailable", func(t *testing.T) {
		primary := &stubSource{err: unavailable("API non disponible (code %d)", 503)}
		secondary := &stubSource{records: archived}
		f := &FallbackSource{Primary: primary, Secondary: secondary, Logger: quietLogger()}

		records, err := f.Fetch(context.Background(), "33063")
		require.NoError(t, err)
		assert.Equal(t, archived, records)
	})

	t.Run("both empty keeps primary reason", func(t *testing.T) {
		primary := &stubSource{err: unavailable("API non disponible (code %d)", 404)}
		f := &FallbackSource{Primary: primary, Secondary: &stubSource{}, Logger: quietLogger()}

		_, err := f.Fetch(context.Background(), "33063")
		ue, ok := IsUnavailable(err)
		require.True(t, ok)
		assert.Equal(t, "API non disponible (code 404)", ue.Reason)
	})

	t.Run("unexpected errors are not masked", func(t *testing.T) {
		boom := errors.New("boom")
		secondary := &stubSource{records: archived}
		f := &FallbackSource{Primary: &stubSource{err: boom}, Secondary: secondary}

		_, err := f.Fetch(context.Background(), "33063")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, secondary.calls)
	})
}

func TestDemoSource_Reproducible(t *testing.T) {
	demo := NewDemoSource()

	first, err := demo.Fetch(context.Background(), "33114")
	require.NoError(t, err)
	second, err := demo.Fetch(context.Background(), "33114")
	require.NoError(t, err)

	require.Len(t, first, 150)
	assert.Equal(t, first, second)

	years := make(map[int]bool)
	for _, r := range first {
		assert.GreaterOrEqual(t, r.BuiltArea, 30.0)
		assert.Less(t, r.BuiltArea, 150.0)
		assert.Equal(t, "33114", r.InseeCode)
		assert.True(t, r.Synthetic)
		years[r.Date.Year()] = true
	}
	assert.GreaterOrEqual(t, len(years), 5)
}

func TestDemoSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDemoSource().Fetch(ctx, "33114")
	assert.ErrorIs(t, err, context.Canceled)
}
