package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
crawler:
  crawl_delay: 500ms
  max_concurrent_requests: 4
fingerprint:
  backend: memory
scheduler:
  enabled: true
  accounts: ["golang", "rust"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.CrawlDelay)
	assert.Equal(t, 4, cfg.Crawler.MaxConcurrentRequests)
	assert.Equal(t, domain.DefaultMaxRetries, cfg.Crawler.MaxRetries)
	assert.Equal(t, "memory", cfg.Fingerprint.Backend)
	assert.Equal(t, 256, cfg.Progress.BufferSize)
	assert.Equal(t, []string{"golang", "rust"}, cfg.Scheduler.Accounts)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	opts := cfg.Crawler.TaskOptions()
	assert.Equal(t, domain.FingerprintURL, opts.FingerprintPolicy)
	assert.False(t, opts.UpdateOnDuplicate)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_MAX_RETRIES", "7")
	t.Setenv("WECHAT_TOKEN", "secret-token")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Crawler.MaxRetries)
	assert.Equal(t, "secret-token", cfg.Crawler.Token)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"negative delay", "crawler:\n  crawl_delay: -1s\n", "crawl_delay"},
		{"unknown backend", "fingerprint:\n  backend: etcd\n", "fingerprint.backend"},
		{"unknown driver", "database:\n  driver: mysql\n", "database.driver"},
		{"scheduler without accounts", "scheduler:\n  enabled: true\n", "scheduler.accounts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "crawl", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=crawl sslmode=disable", c.DSN())

	c = DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	assert.Equal(t, "./data/x.db", c.DSN())
}
