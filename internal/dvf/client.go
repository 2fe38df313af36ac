package dvf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"estimateur/server/internal/models"
)

const (
	DefaultBaseURL = "https://files.data.gouv.fr/geo-dvf/latest/csv"

	reasonNoTransactions = "Aucune transaction trouvée pour cette commune"
	reasonIncompleteData = "Données incomplètes pour cette commune"
)

var inseePattern = regexp.MustCompile(`^(\d{5}|2[AB]\d{3})$`)

// ClientConfig configures the geo-dvf HTTP client.
type ClientConfig struct {
	BaseURL           string
	Years             []int
	Timeout           time.Duration
	CacheDir          string
	RequestsPerSecond float64
}

// Client downloads per-commune CSV files from the geo-dvf mirror on data.gouv.fr.
type Client struct {
	baseURL  string
	years    []int
	cacheDir string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *logrus.Logger
}

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Years) == 0 {
		cfg.Years = []int{2023}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create DVF cache directory, caching disabled")
			cfg.CacheDir = ""
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		years:    cfg.Years,
		cacheDir: cfg.CacheDir,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Department returns the department part of an INSEE code: three digits for
// overseas communes (97x), two otherwise (including Corsica's 2A/2B).
func Department(inseeCode string) string {
	if strings.HasPrefix(inseeCode, "97") {
		return inseeCode[:3]
	}
	return inseeCode[:2]
}

// URL returns the geo-dvf file location of a commune for a given year.
func (c *Client) URL(year int, inseeCode string) string {
	return fmt.Sprintf("%s/%d/communes/%s/%s.csv", c.baseURL, year, Department(inseeCode), inseeCode)
}

// Fetch downloads every configured year and returns the residential sales.
// The commune is unavailable only when no year could be downloaded.
func (c *Client) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	inseeCode = strings.ToUpper(strings.TrimSpace(inseeCode))
	if !inseePattern.MatchString(inseeCode) {
		return nil, unavailable("Code INSEE invalide : %q", inseeCode)
	}

	var (
		records     []models.Transaction
		total       ParseStats
		firstErr    *UnavailableError
		parsedFiles int
	)
	for _, year := range c.years {
		body, err := c.download(ctx, year, inseeCode)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"insee_code": inseeCode,
				"year":       year,
			}).WithError(err).Warn("DVF download failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		parsed, stats, perr := ParseCSV(bytes.NewReader(body))
		if perr != nil {
			c.logger.WithError(perr).WithField("year", year).Warn("Unreadable DVF file")
			if firstErr == nil {
				firstErr = &UnavailableError{Reason: reasonIncompleteData, Err: perr}
			}
			continue
		}
		parsedFiles++
		total.Rows += stats.Rows
		total.Sales += stats.Sales
		total.Residential += stats.Residential
		total.Usable += stats.Usable
		records = append(records, parsed...)

		c.logger.WithFields(logrus.Fields{
			"insee_code":  inseeCode,
			"year":        year,
			"rows":        stats.Rows,
			"sales":       stats.Sales,
			"residential": stats.Residential,
			"usable":      stats.Usable,
		}).Debug("Parsed DVF file")
	}

	switch {
	case parsedFiles == 0:
		return nil, firstErr
	case total.Residential == 0:
		return nil, unavailable(reasonNoTransactions)
	case len(records) == 0:
		return nil, unavailable(reasonIncompleteData)
	}

	c.logger.WithFields(logrus.Fields{
		"insee_code":   inseeCode,
		"transactions": len(records),
		"years":        len(c.years),
	}).Info("Fetched DVF transactions")
	return records, nil
}

func (c *Client) download(ctx context.Context, year int, inseeCode string) ([]byte, *UnavailableError) {
	cacheFile := c.cacheFile(year, inseeCode)
	if cacheFile != "" {
		if data, err := os.ReadFile(cacheFile); err == nil {
			if body, err := snappy.Decode(nil, data); err == nil {
				c.logger.WithFields(logrus.Fields{
					"insee_code": inseeCode,
					"year":       year,
					"source":     "cache",
				}).Debug("Loaded DVF file from cache")
				return body, nil
			}
			c.logger.WithField("file", cacheFile).Warn("Corrupted cache entry ignored")
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UnavailableError{Reason: fmt.Sprintf("Erreur de connexion : %v", err), Err: err}
	}

	url := c.URL(year, inseeCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UnavailableError{Reason: fmt.Sprintf("Erreur de connexion : %v", err), Err: err}
	}
	req.Header.Set("User-Agent", "estimateur/1.0")

	c.logger.WithField("url", url).Info("Downloading DVF file")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Reason: fmt.Sprintf("Erreur de connexion : %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("API non disponible (code %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Reason: fmt.Sprintf("Erreur de connexion : %v", err), Err: err}
	}

	if cacheFile != "" {
		c.store(cacheFile, body)
	}
	return body, nil
}

func (c *Client) cacheFile(year int, inseeCode string) string {
	if c.cacheDir == "" {
		return ""
	}
	return filepath.Join(c.cacheDir, strconv.Itoa(year), inseeCode+".csv.sz")
}

func (c *Client) store(path string, body []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		c.logger.WithError(err).Warn("Failed to create cache directory")
		return
	}
	if err := os.WriteFile(path, snappy.Encode(nil, body), 0644); err != nil {
		c.logger.WithError(err).Warn("Failed to write DVF cache")
	}
}
