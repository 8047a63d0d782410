package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("PROVIDER", "")
	t.Setenv("CACHE_SIZE", "")
	t.Setenv("RETRY_BACKOFF", "")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "yahoo", cfg.Provider.Name)
	assert.Equal(t, 2, cfg.Provider.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Provider.RetryBackoff)
	assert.Equal(t, 32, cfg.Cache.Size)
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CACHE_SIZE", "8")
	t.Setenv("RETRY_BACKOFF", "250ms")
	t.Setenv("CACHE_SINGLE_FLIGHT", "false")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, 8, cfg.Cache.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Provider.RetryBackoff)
	assert.False(t, cfg.Cache.SingleFlight)
}

func TestYAMLOverlay(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PROVIDER", "")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "")

	path := writeTempConfig(t, `
server:
  port: "9090"
provider:
  name: alpaca
  retry_backoff: 500ms
  rate_limit: 3
alpaca:
  api_key: "PKTEST123"
  secret_key: "secret123"
cache:
  size: 16
  single_flight: true
logging:
  log_level: debug
  format: json
`)

	cfg := LoadFrom(path)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "alpaca", cfg.Provider.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Provider.RetryBackoff)
	assert.Equal(t, 3, cfg.Provider.RateLimit)
	assert.Equal(t, "PKTEST123", cfg.Alpaca.APIKey)
	assert.Equal(t, 16, cfg.Cache.Size)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestYAMLKeepsUnsetCacheAndRetryDefaults(t *testing.T) {
	t.Setenv("CACHE_SINGLE_FLIGHT", "")
	t.Setenv("RETRY_ATTEMPTS", "")

	path := writeTempConfig(t, `
cache:
  size: 16
`)
	cfg := LoadFrom(path)
	assert.Equal(t, 16, cfg.Cache.Size)
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, 2, cfg.Provider.RetryAttempts)
}

func TestYAMLExplicitZeroValues(t *testing.T) {
	path := writeTempConfig(t, `
provider:
  retry_attempts: 0
cache:
  single_flight: false
`)
	cfg := LoadFrom(path)
	assert.Equal(t, 0, cfg.Provider.RetryAttempts)
	assert.False(t, cfg.Cache.SingleFlight)
	assert.NoError(t, cfg.Validate())
}

func TestYahooCookieURL(t *testing.T) {
	t.Setenv("YAHOO_COOKIE_URL", "")
	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, "https://fc.yahoo.com", cfg.Yahoo.CookieURL)

	path := writeTempConfig(t, `
yahoo:
  cookie_url: "http://localhost:9999"
`)
	assert.Equal(t, "http://localhost:9999", LoadFrom(path).Yahoo.CookieURL)
}

func TestEnvCredentialsWinOverYAML(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "FROM_ENV")

	path := writeTempConfig(t, `
alpaca:
  api_key: "FROM_YAML"
`)
	cfg := LoadFrom(path)
	assert.Equal(t, "FROM_ENV", cfg.Alpaca.APIKey)
}

func TestInvalidYAMLFallsBackToDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeTempConfig(t, "server: [unclosed")
	cfg := LoadFrom(path)
	assert.Equal(t, "8080", cfg.Port)
}

func TestValidate(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg.Provider.Name = "bloomberg"
	assert.ErrorContains(t, cfg.Validate(), "unknown provider")

	cfg.Provider.Name = "alpaca"
	cfg.Alpaca.APIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "ALPACA_API_KEY")

	cfg.Alpaca.APIKey = "<your key>"
	cfg.Alpaca.SecretKey = "real"
	assert.ErrorContains(t, cfg.Validate(), "placeholder")

	cfg.Alpaca.APIKey = "PK123"
	cfg.Alpaca.SecretKey = "REPLACE_ME"
	assert.ErrorContains(t, cfg.Validate(), "placeholder")

	cfg.Alpaca.SecretKey = "s3cr3t"
	cfg.Cache.Size = 0
	assert.ErrorContains(t, cfg.Validate(), "cache size")
}
