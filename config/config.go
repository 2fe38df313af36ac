package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Server struct {
		Port           int      `env:"SERVER_PORT" envDefault:"5250"`
		DatabasePath   string   `env:"DATABASE_PATH" envDefault:"database/estimateur.db"`
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	}

	// DVF data source configuration
	DVF struct {
		BaseURL string `env:"DVF_BASE_URL" envDefault:"https://files.data.gouv.fr/geo-dvf/latest/csv"`

		// Years downloaded for each commune, oldest first
		Years []int `env:"DVF_YEARS" envDefault:"2023" envSeparator:","`

		Timeout time.Duration `env:"DVF_TIMEOUT" envDefault:"15s"`

		// Directory for the compressed CSV cache, empty disables caching
		CacheDir string `env:"DVF_CACHE_DIR"`

		RequestsPerSecond float64 `env:"DVF_REQUESTS_PER_SECOND" envDefault:"2"`

		// Use synthetic data instead of the DVF files
		Demo bool `env:"DVF_DEMO" envDefault:"false"`
	}

	Geo struct {
		APIURL   string `env:"GEO_API_URL" envDefault:"https://geo.api.gouv.fr"`
		CacheDir string `env:"GEO_CACHE_DIR"`

		// Optional JSON file extending the built-in communes
		CommunesFile string `env:"COMMUNES_FILE"`
	}

	Analysis struct {
		TrimOutliers  bool    `env:"ANALYSIS_TRIM_OUTLIERS" envDefault:"true"`
		LowerQuantile float64 `env:"ANALYSIS_LOWER_QUANTILE" envDefault:"0.05"`
		UpperQuantile float64 `env:"ANALYSIS_UPPER_QUANTILE" envDefault:"0.95"`

		// "mean" or "trend"
		Basis string `env:"ANALYSIS_BASIS" envDefault:"mean"`
	}

	// BatchProcessing configuration for the transaction archive
	BatchProcessing struct {
		// Number of batches the queue can hold before pushes are rejected
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"32"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}

	Scheduler struct {
		Enabled bool   `env:"SCHEDULER_ENABLED" envDefault:"false"`
		Spec    string `env:"SCHEDULER_SPEC" envDefault:"0 3 * * *"`

		// INSEE codes refreshed on every run
		Communes []string `env:"SCHEDULER_COMMUNES" envSeparator:","`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
