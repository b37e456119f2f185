package config

import (
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DatabaseDriver      string
	DatabaseURL         string
	S3Endpoint          string
	S3AccessKey         string
	S3SecretKey         string
	S3UseSSL            bool
	S3Region            string
	AuditsBucket        string
	HTTPAddr            string
	LogLevel            string
	LogFormat           string
	PollInterval        time.Duration
	ScoreReloadInterval time.Duration
	WorkerConcurrency   int
	DownloadConcurrency int
	Cache               CacheConfig
}

// CacheConfig holds the reference TTLs in days and the score cache bound.
type CacheConfig struct {
	PolarisCheckTTL int `yaml:"polaris-check-ttl"`
	AzureCheckTTL   int `yaml:"azure-check-ttl"`
	DefaultTTL      int `yaml:"default-ttl"`
	CVETTL          int `yaml:"cve-ttl"`
	ScoreCacheSize  int `yaml:"score-cache-size"`
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func (c CacheConfig) PolarisCheck() time.Duration { return days(c.PolarisCheckTTL) }
func (c CacheConfig) AzureCheck() time.Duration   { return days(c.AzureCheckTTL) }
func (c CacheConfig) DefaultCheck() time.Duration { return days(c.DefaultTTL) }
func (c CacheConfig) CVE() time.Duration          { return days(c.CVETTL) }

func defaultCache() CacheConfig {
	return CacheConfig{PolarisCheckTTL: 7, AzureCheckTTL: 7, DefaultTTL: 7, CVETTL: 30, ScoreCacheSize: 50000}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.NotValidf("%s %q", key, v)
	}
	return d, nil
}

// Load reads the configuration from the environment and the optional
// CACHE_CONFIG yaml file.
func Load() (Config, error) {
	cfg := Config{
		DatabaseDriver:      getString("DATABASE_DRIVER", DriverPostgres),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:            getBool("S3_USE_SSL", "false"),
		S3Region:            os.Getenv("S3_REGION"),
		AuditsBucket:        os.Getenv("AUDITS_BUCKET"),
		HTTPAddr:            getString("HTTP_ADDR", ":8080"),
		LogLevel:            getString("LOG_LEVEL", "info"),
		LogFormat:           getString("LOG_FORMAT", "json"),
		WorkerConcurrency:   getInt("WORKER_CONCURRENCY", 3),
		DownloadConcurrency: getInt("DOWNLOAD_CONCURRENCY", 4),
		Cache:               defaultCache(),
	}
	var err error
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ScoreReloadInterval, err = getDuration("SCORE_RELOAD_INTERVAL", 6*time.Hour); err != nil {
		return cfg, err
	}
	if path := os.Getenv("CACHE_CONFIG"); path != "" {
		if err := cfg.Cache.loadFile(path); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.NotValidf("DATABASE_URL is required")
	}
	if cfg.DatabaseDriver != DriverPostgres && cfg.DatabaseDriver != DriverSQLite {
		return cfg, errors.NotSupportedf("DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.DownloadConcurrency < 1 {
		cfg.DownloadConcurrency = 1
	}
	return cfg, nil
}

// RequireBlobStore reports a missing object storage setting.
func (c Config) RequireBlobStore() error {
	if c.S3Endpoint == "" || c.AuditsBucket == "" {
		return errors.NotValidf("S3_ENDPOINT and AUDITS_BUCKET are required")
	}
	return nil
}

// loadFile overrides the fields present in the yaml file at path.
func (c *CacheConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotatef(err, "read cache config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NotValidf("cache config %s: %v", path, err)
	}
	return nil
}
