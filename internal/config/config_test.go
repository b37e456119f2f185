package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
)

var envVars = []string{
	"DATABASE_DRIVER", "DATABASE_URL", "S3_ENDPOINT", "AUDITS_BUCKET", "HTTP_ADDR",
	"LOG_LEVEL", "LOG_FORMAT", "POLL_INTERVAL", "SCORE_RELOAD_INTERVAL",
	"WORKER_CONCURRENCY", "DOWNLOAD_CONCURRENCY", "CACHE_CONFIG",
}

func clearEnv(t *testing.T) {
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/audits")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"DatabaseDriver", cfg.DatabaseDriver, DriverPostgres},
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"PollInterval", cfg.PollInterval, time.Minute},
		{"ScoreReloadInterval", cfg.ScoreReloadInterval, 6 * time.Hour},
		{"WorkerConcurrency", cfg.WorkerConcurrency, 3},
		{"DownloadConcurrency", cfg.DownloadConcurrency, 4},
		{"PolarisCheck", cfg.Cache.PolarisCheck(), 7 * 24 * time.Hour},
		{"CVE", cfg.Cache.CVE(), 30 * 24 * time.Hour},
		{"ScoreCacheSize", cfg.Cache.ScoreCacheSize, 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_WithEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "/data/audits.db")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("DOWNLOAD_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.DatabaseDriver != DriverSQLite {
		t.Errorf("DatabaseDriver = %q, want %q", cfg.DatabaseDriver, DriverSQLite)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("WorkerConcurrency = %d, want 1", cfg.WorkerConcurrency)
	}
	if cfg.DownloadConcurrency != 8 {
		t.Errorf("DownloadConcurrency = %d, want 8", cfg.DownloadConcurrency)
	}
}

func TestLoad_CacheConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/audits")
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte("polaris-check-ttl: 1\ncve-ttl: 2\nscore-cache-size: 10\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CACHE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	want := CacheConfig{PolarisCheckTTL: 1, AzureCheckTTL: 7, DefaultTTL: 7, CVETTL: 2, ScoreCacheSize: 10}
	if cfg.Cache != want {
		t.Errorf("Cache = %+v, want %+v", cfg.Cache, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		kind error
	}{
		{"missing database url", map[string]string{}, errors.NotValid},
		{"unknown driver", map[string]string{"DATABASE_URL": "x", "DATABASE_DRIVER": "mysql"}, errors.NotSupported},
		{"bad interval", map[string]string{"DATABASE_URL": "x", "POLL_INTERVAL": "often"}, errors.NotValid},
		{"bad cache file", map[string]string{"DATABASE_URL": "x", "CACHE_CONFIG": "testdata/broken.yaml"}, errors.NotValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !errors.Is(err, tt.kind) {
				t.Errorf("Load() error = %v, want %v", err, tt.kind)
			}
		})
	}
}
