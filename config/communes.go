package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"estimateur/server/internal/models"
)

func commune(code, name string, postalCodes []string, lat, lon float64) models.Commune {
	return models.Commune{Code: code, Name: name, PostalCodes: postalCodes, Latitude: &lat, Longitude: &lon}
}

// DefaultCommunes are the communes offered out of the box
func DefaultCommunes() []models.Commune {
	return []models.Commune{
		commune("33063", "Bordeaux", []string{"33000", "33100", "33200", "33300", "33800"}, 44.8378, -0.5792),
		commune("75056", "Paris", nil, 48.8566, 2.3522),
		commune("69123", "Lyon", nil, 45.7640, 4.8357),
		commune("13055", "Marseille", nil, 43.2965, 5.3698),
		commune("33114", "Cavignac", []string{"33620"}, 45.1006, -0.3906),
	}
}

// NormalizeName lowercases a commune name and strips accents and separators,
// so "Saint-Émilion" and "saint emilion" compare equal.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ToLower(strings.TrimSpace(stripped))
	return strings.Join(strings.FieldsFunc(stripped, func(r rune) bool {
		return r == '-' || r == '\'' || r == '’' || unicode.IsSpace(r)
	}), " ")
}

// CommuneDirectory is an in-memory index of communes by INSEE code and name.
type CommuneDirectory struct {
	mu     sync.RWMutex
	byCode map[string]models.Commune
	byName map[string]string
}

func NewCommuneDirectory(communes []models.Commune) *CommuneDirectory {
	d := &CommuneDirectory{
		byCode: make(map[string]models.Commune),
		byName: make(map[string]string),
	}
	for _, c := range communes {
		d.Add(c)
	}
	return d
}

// Add inserts or replaces a commune
func (d *CommuneDirectory) Add(c models.Commune) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	d.byCode[c.Code] = c
	d.byName[NormalizeName(c.Name)] = c.Code
}

// GetByCode returns the commune with the given INSEE code
func (d *CommuneDirectory) GetByCode(code string) *models.Commune {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil
	}
	return &c
}

// GetByName returns the commune with the given name, ignoring case and accents
func (d *CommuneDirectory) GetByName(name string) *models.Commune {
	d.mu.RLock()
	code, ok := d.byName[NormalizeName(name)]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return d.GetByCode(code)
}

// All returns every commune sorted by name
func (d *CommuneDirectory) All() []models.Commune {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Commune, 0, len(d.byCode))
	for _, c := range d.byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

type communesFile struct {
	Communes []models.Commune `json:"communes"`
}

// LoadCommunes builds a directory from the defaults, extended by the JSON file
// at path when path is not empty.
func LoadCommunes(path string) (*CommuneDirectory, error) {
	d := NewCommuneDirectory(DefaultCommunes())
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read communes file: %w", err)
	}

	var file communesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse communes file: %w", err)
	}

	for _, c := range file.Communes {
		if c.Code == "" || c.Name == "" {
			return nil, fmt.Errorf("invalid commune entry: code and name are required")
		}
		d.Add(c)
	}
	return d, nil
}
