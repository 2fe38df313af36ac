package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "Bordeaux", expected: "bordeaux"},
		{input: "  Saint-Émilion ", expected: "saint emilion"},
		{input: "saint emilion", expected: "saint emilion"},
		{input: "L'Isle-d'Abeau", expected: "l isle d abeau"},
		{input: "Châteauneuf-du-Pape", expected: "chateauneuf du pape"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestCommuneDirectory_Lookup(t *testing.T) {
	d := NewCommuneDirectory(DefaultCommunes())

	c := d.GetByCode("33063")
	require.NotNil(t, c)
	assert.Equal(t, "Bordeaux", c.Name)
	require.NotNil(t, c.Latitude)

	c = d.GetByName("BORDEAUX")
	require.NotNil(t, c)
	assert.Equal(t, "33063", c.Code)

	assert.Nil(t, d.GetByCode("99999"))
	assert.Nil(t, d.GetByName("Atlantis"))
}

func TestCommuneDirectory_AllSorted(t *testing.T) {
	all := NewCommuneDirectory(DefaultCommunes()).All()
	require.Len(t, all, len(DefaultCommunes()))
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Name, all[i].Name)
	}
}

func TestLoadCommunes(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		d, err := LoadCommunes("")
		require.NoError(t, err)
		assert.Len(t, d.All(), len(DefaultCommunes()))
	})

	t.Run("file extends defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "communes.json")
		content := `{"communes": [{"code": "2a004", "name": "Ajaccio"}, {"code": "33063", "name": "Bordeaux", "postal_codes": ["33000"]}]}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		d, err := LoadCommunes(path)
		require.NoError(t, err)
		assert.Len(t, d.All(), len(DefaultCommunes())+1)

		c := d.GetByName("ajaccio")
		require.NotNil(t, c)
		assert.Equal(t, "2A004", c.Code)
		assert.Equal(t, []string{"33000"}, d.GetByCode("33063").PostalCodes)
	})

	t.Run("invalid entry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "communes.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"communes": [{"code": "33063"}]}`), 0644))

		_, err := LoadCommunes(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCommunes(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5250, cfg.Server.Port)
	assert.Equal(t, []int{2023}, cfg.DVF.Years)
	assert.True(t, cfg.Analysis.TrimOutliers)
	assert.Equal(t, 0.05, cfg.Analysis.LowerQuantile)
	assert.Equal(t, "mean", cfg.Analysis.Basis)
	assert.Equal(t, 3, cfg.BatchProcessing.MaxRetries)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("DVF_YEARS", "2021,2022,2023")
	t.Setenv("SCHEDULER_COMMUNES", "33063,75056")
	t.Setenv("ANALYSIS_TRIM_OUTLIERS", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []int{2021, 2022, 2023}, cfg.DVF.Years)
	assert.Equal(t, []string{"33063", "75056"}, cfg.Scheduler.Communes)
	assert.False(t, cfg.Analysis.TrimOutliers)
}
