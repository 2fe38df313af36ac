package dvf

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id_mutation,date_mutation,numero_disposition,nature_mutation,valeur_fonciere,code_commune,nom_commune,type_local,surface_reelle_bati,nombre_pieces_principales
2023-1,2023-01-12,000001,Vente,185000.0,33114,Cavignac,Maison,92,4
2023-2,2023-02-03,000001,Vente,120000.0,33114,Cavignac,Appartement,60,3
2023-3,2023-03-20,000001,Echange,99000.0,33114,Cavignac,Maison,80,3
2023-4,2023-04-01,000001,Vente,15000.0,33114,Cavignac,Dépendance,12,0
2023-5,2023-05-05,000001,Vente,,33114,Cavignac,Maison,85,4
2023-6,2023-06-05,000001,Vente,210000.0,33114,Cavignac,Maison,0,5
2023-7,2023-07-05,000001,Vente,"250000,50",33114,Cavignac,Maison,100,
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestParseCSV_Filters(t *testing.T) {
	records, stats, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Rows)
	assert.Equal(t, 6, stats.Sales)
	assert.Equal(t, 5, stats.Residential)
	assert.Equal(t, 3, stats.Usable)
	require.Len(t, records, 3)

	assert.Equal(t, "2023-1", records[0].MutationID)
	assert.Equal(t, "33114", records[0].InseeCode)
	assert.Equal(t, 185000.0, records[0].Price)
	assert.Equal(t, 92.0, records[0].BuiltArea)
	require.NotNil(t, records[0].Rooms)
	assert.Equal(t, 4, *records[0].Rooms)
	assert.Equal(t, time.Date(2023, time.January, 12, 0, 0, 0, 0, time.UTC), records[0].Date)

	assert.Equal(t, 250000.5, records[2].Price)
	assert.Nil(t, records[2].Rooms)
}

func TestParseCSV_Coordinates(t *testing.T) {
	csv := `date_mutation,nature_mutation,valeur_fonciere,type_local,surface_reelle_bati,longitude,latitude
2023-01-12,Vente,185000,Maison,92,-0.579,44.837
2023-01-13,Vente,185000,Maison,92,,44.837
2023-01-14,Vente,185000,Maison,92,500,44.837
`
	records, _, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, records, 3)

	lat, lon, ok := records[0].Location()
	require.True(t, ok)
	assert.Equal(t, 44.837, lat)
	assert.Equal(t, -0.579, lon)

	_, _, ok = records[1].Location()
	assert.False(t, ok)
	_, _, ok = records[2].Location()
	assert.False(t, ok)
}

func TestParseCSV_MissingColumn(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader("date_mutation,valeur_fonciere\n2023-01-01,1000\n"))
	assert.Error(t, err)
}

func TestDepartment(t *testing.T) {
	assert.Equal(t, "33", Department("33063"))
	assert.Equal(t, "2A", Department("2A004"))
	assert.Equal(t, "971", Department("97101"))
}

func TestClient_URL(t *testing.T) {
	c := NewClient(ClientConfig{}, quietLogger())
	assert.Equal(t,
		"https://files.data.gouv.fr/geo-dvf/latest/csv/2023/communes/33/33114.csv",
		c.URL(2023, "33114"))
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2023/communes/33/33114.csv", r.URL.Path)
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Years: []int{2023}}, quietLogger())
	records, err := c.Fetch(context.Background(), "33114")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestClient_FetchUnavailable(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedReason string
	}{
		{
			name:           "not found",
			status:         http.StatusNotFound,
			expectedReason: "API non disponible (code 404)",
		},
		{
			name:           "server error",
			status:         http.StatusBadGateway,
			expectedReason: "API non disponible (code 502)",
		},
		{
			name:           "no residential sale",
			status:         http.StatusOK,
			body:           "date_mutation,nature_mutation,valeur_fonciere,type_local,surface_reelle_bati\n2023-01-01,Echange,1000,Maison,50\n",
			expectedReason: "Aucune transaction trouvée pour cette commune",
		},
		{
			name:           "incomplete rows",
			status:         http.StatusOK,
			body:           "date_mutation,nature_mutation,valeur_fonciere,type_local,surface_reelle_bati\n2023-01-01,Vente,,Maison,50\n2023-01-02,Vente,1000,Maison,0\n",
			expectedReason: "Données incomplètes pour cette commune",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(ClientConfig{BaseURL: server.URL}, quietLogger())
			records, err := c.Fetch(context.Background(), "33114")
			assert.Nil(t, records)

			ue, ok := IsUnavailable(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedReason, ue.Reason)
		})
	}
}

func TestClient_FetchConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(ClientConfig{BaseURL: url}, quietLogger())
	_, err := c.Fetch(context.Background(), "33114")

	ue, ok := IsUnavailable(err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ue.Reason, "Erreur de connexion : "))
	assert.NotNil(t, ue.Unwrap())
}

func TestClient_FetchInvalidCode(t *testing.T) {
	c := NewClient(ClientConfig{}, quietLogger())
	_, err := c.Fetch(context.Background(), "abc")

	_, ok := IsUnavailable(err)
	assert.True(t, ok)
}

func TestClient_FetchPartialYears(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/2022/") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Years: []int{2022, 2023}}, quietLogger())
	records, err := c.Fetch(context.Background(), "33114")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestClient_FetchUsesCache(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	cfg := ClientConfig{BaseURL: server.URL, Years: []int{2023}, CacheDir: t.TempDir()}
	c := NewClient(cfg, quietLogger())

	first, err := c.Fetch(context.Background(), "33114")
	require.NoError(t, err)
	second, err := c.Fetch(context.Background(), "33114")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
