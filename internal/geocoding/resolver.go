package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"estimateur/server/config"
	"estimateur/server/internal/models"
)

const DefaultBaseURL = "https://geo.api.gouv.fr"

var (
	ErrCommuneNotFound = errors.New("commune not found")

	inseeCodePattern = regexp.MustCompile(`^(\d{5}|2[ABab]\d{3})$`)
)

// Resolver maps a commune name or INSEE code to a commune, using the built-in
// directory first, then a JSON cache on disk, then the geo.api.gouv.fr API.
type Resolver struct {
	logger    *logrus.Logger
	baseURL   string
	cacheDir  string
	cache     map[string]models.Commune
	cacheLock sync.RWMutex
	directory *config.CommuneDirectory
	client    *http.Client
	limiter   *rate.Limiter
}

func NewResolver(logger *logrus.Logger, baseURL, cacheDir string, directory *config.CommuneDirectory) *Resolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if directory == nil {
		directory = config.NewCommuneDirectory(config.DefaultCommunes())
	}

	r := &Resolver{
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
		cacheDir:  cacheDir,
		cache:     make(map[string]models.Commune),
		directory: directory,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}

	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geo cache directory")
		}
		r.loadCache()
	}
	return r
}

func (r *Resolver) cacheFile() string {
	return filepath.Join(r.cacheDir, "communes_cache.json")
}

func (r *Resolver) loadCache() {
	data, err := os.ReadFile(r.cacheFile())
	if err != nil {
		r.logger.Debugf("Could not load commune cache: %v", err)
		return
	}

	if err := json.Unmarshal(data, &r.cache); err != nil {
		r.logger.Errorf("Failed to parse commune cache: %v", err)
		return
	}

	r.logger.Infof("Loaded %d cached communes", len(r.cache))
}

func (r *Resolver) saveCache() {
	if r.cacheDir == "" {
		return
	}

	r.cacheLock.RLock()
	data, err := json.Marshal(r.cache)
	r.cacheLock.RUnlock()
	if err != nil {
		r.logger.Errorf("Failed to marshal commune cache: %v", err)
		return
	}

	if err := os.WriteFile(r.cacheFile(), data, 0644); err != nil {
		r.logger.Errorf("Failed to save commune cache: %v", err)
	}
}

// IsInseeCode reports whether s looks like an INSEE commune code.
func IsInseeCode(s string) bool {
	return inseeCodePattern.MatchString(strings.TrimSpace(s))
}

// Resolve returns the commune matching query, an INSEE code or a name.
func (r *Resolver) Resolve(ctx context.Context, query string) (*models.Commune, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrCommuneNotFound
	}

	var (
		cacheKey string
		local    *models.Commune
	)
	if IsInseeCode(query) {
		query = strings.ToUpper(query)
		cacheKey = "code:" + query
		local = r.directory.GetByCode(query)
	} else {
		cacheKey = "name:" + config.NormalizeName(query)
		local = r.directory.GetByName(query)
	}
	if local != nil {
		return local, nil
	}

	r.cacheLock.RLock()
	if c, ok := r.cache[cacheKey]; ok {
		r.cacheLock.RUnlock()
		r.logger.WithFields(logrus.Fields{
			"query":  query,
			"code":   c.Code,
			"source": "cache",
		}).Debug("Found commune in cache")
		return &c, nil
	}
	r.cacheLock.RUnlock()

	c, err := r.lookup(ctx, query)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"query":  query,
		"code":   c.Code,
		"name":   c.Name,
		"source": "geo.api.gouv.fr",
	}).Info("Resolved commune")

	r.cacheLock.Lock()
	r.cache[cacheKey] = *c
	r.cacheLock.Unlock()
	r.saveCache()

	return c, nil
}

type geoCommune struct {
	Name        string            `json:"nom"`
	Code        string            `json:"code"`
	PostalCodes []string          `json:"codesPostaux"`
	Centre      *geojson.Geometry `json:"centre"`
}

func (g geoCommune) toModel() *models.Commune {
	c := &models.Commune{
		Code:        g.Code,
		Name:        g.Name,
		PostalCodes: g.PostalCodes,
	}
	if g.Centre != nil {
		if p, ok := g.Centre.Coordinates.(orb.Point); ok {
			lat, lon := p.Lat(), p.Lon()
			c.Latitude = &lat
			c.Longitude = &lon
		}
	}
	return c
}

func (r *Resolver) lookup(ctx context.Context, query string) (*models.Commune, error) {
	fields := "nom,code,codesPostaux,centre"

	var endpoint string
	if IsInseeCode(query) {
		endpoint = fmt.Sprintf("%s/communes/%s?%s", r.baseURL, url.PathEscape(query), url.Values{"fields": {fields}}.Encode())
	} else {
		params := url.Values{
			"nom":    {query},
			"fields": {fields},
			"boost":  {"population"},
			"limit":  {"1"},
		}
		endpoint = fmt.Sprintf("%s/communes?%s", r.baseURL, params.Encode())
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.WithError(err).WithField("query", query).Error("Commune lookup failed")
		return nil, fmt.Errorf("commune lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCommuneNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("commune lookup failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if IsInseeCode(query) {
		var single geoCommune
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if single.Code == "" {
			return nil, ErrCommuneNotFound
		}
		return single.toModel(), nil
	}

	var results []geoCommune
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(results) == 0 {
		r.logger.WithField("query", query).Warn("No commune found")
		return nil, ErrCommuneNotFound
	}
	return results[0].toModel(), nil
}
