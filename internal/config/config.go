package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultConfigFile is read from the working directory when present
const DefaultConfigFile = "config.yaml"

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	Format     string `yaml:"format"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
}

// YahooConfig points the Yahoo Finance gateway at its endpoints
type YahooConfig struct {
	OptionsURL string `yaml:"options_url"`
	ChartURL   string `yaml:"chart_url"`
	CookieURL  string `yaml:"cookie_url"` // empty skips the crumb handshake
}

// AlpacaConfig represents Alpaca API configuration
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// ProviderConfig selects and tunes the market data gateway
type ProviderConfig struct {
	Name          string        `yaml:"name"` // yahoo, alpaca
	RateLimit     int           `yaml:"rate_limit"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// CacheConfig sizes the expiry and chain memoization caches
type CacheConfig struct {
	Size         int  `yaml:"size"`
	SingleFlight bool `yaml:"single_flight"`
}

type Config struct {
	// Server settings
	Port         string
	TemplatesDir string

	Provider ProviderConfig
	Yahoo    YahooConfig
	Alpaca   AlpacaConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

type YAMLConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		TemplatesDir string `yaml:"templates_dir"`
	} `yaml:"server"`
	Provider YAMLProviderConfig `yaml:"provider"`
	Yahoo    YahooConfig        `yaml:"yahoo"`
	Alpaca   AlpacaConfig       `yaml:"alpaca"`
	Cache    YAMLCacheConfig    `yaml:"cache"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// YAMLProviderConfig uses pointers where zero is a meaningful setting
type YAMLProviderConfig struct {
	Name          string        `yaml:"name"`
	RateLimit     int           `yaml:"rate_limit"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts *int          `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// YAMLCacheConfig leaves unset keys at their environment defaults
type YAMLCacheConfig struct {
	Size         int   `yaml:"size"`
	SingleFlight *bool `yaml:"single_flight"`
}

// Load reads .env, environment variables and config.yaml from the working directory
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  could not read .env: %v\n", err)
	}
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom builds the config from environment defaults with the given YAML file layered on top
func LoadFrom(path string) *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		TemplatesDir: getEnv("TEMPLATES_DIR", ""),
		Provider: ProviderConfig{
			Name:          strings.ToLower(getEnv("PROVIDER", "yahoo")),
			RateLimit:     getEnvInt("PROVIDER_RATE_LIMIT", 5),
			Timeout:       getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 2),
			RetryBackoff:  getEnvDuration("RETRY_BACKOFF", 2*time.Second),
		},
		Yahoo: YahooConfig{
			OptionsURL: getEnv("YAHOO_OPTIONS_URL", "https://query2.finance.yahoo.com"),
			ChartURL:   getEnv("YAHOO_CHART_URL", "https://query1.finance.yahoo.com"),
			CookieURL:  getEnv("YAHOO_COOKIE_URL", "https://fc.yahoo.com"),
		},
		Alpaca: AlpacaConfig{
			APIKey:    getEnv("ALPACA_API_KEY", ""),
			SecretKey: getEnv("ALPACA_SECRET_KEY", ""),
			BaseURL:   getEnv("ALPACA_BASE_URL", "https://api.alpaca.markets"),
			DataURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		},
		Cache: CacheConfig{
			Size:         getEnvInt("CACHE_SIZE", 32),
			SingleFlight: getEnvBool("CACHE_SINGLE_FLIGHT", true),
		},
		Logging: LoggingConfig{
			LogLevel:   getEnv("LOG_LEVEL", "info"),
			LogFile:    getEnv("LOG_FILE", "chainsense.log"),
			Format:     getEnv("LOG_FORMAT", "text"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			Console:    getEnvBool("LOG_CONSOLE", false),
		},
	}

	yamlCfg := loadYAMLConfig(path)
	if yamlCfg == nil {
		return cfg
	}

	// Environment wins over YAML for the credentials, matching the server's startup checks
	if yamlCfg.Server.Port != "" && os.Getenv("PORT") == "" {
		cfg.Port = yamlCfg.Server.Port
	}
	if yamlCfg.Server.TemplatesDir != "" {
		cfg.TemplatesDir = yamlCfg.Server.TemplatesDir
	}

	if yamlCfg.Provider.Name != "" && os.Getenv("PROVIDER") == "" {
		cfg.Provider.Name = strings.ToLower(yamlCfg.Provider.Name)
	}
	if yamlCfg.Provider.RateLimit > 0 {
		cfg.Provider.RateLimit = yamlCfg.Provider.RateLimit
	}
	if yamlCfg.Provider.Timeout > 0 {
		cfg.Provider.Timeout = yamlCfg.Provider.Timeout
	}
	if yamlCfg.Provider.RetryAttempts != nil {
		cfg.Provider.RetryAttempts = *yamlCfg.Provider.RetryAttempts
	}
	if yamlCfg.Provider.RetryBackoff > 0 {
		cfg.Provider.RetryBackoff = yamlCfg.Provider.RetryBackoff
	}

	if yamlCfg.Yahoo.OptionsURL != "" {
		cfg.Yahoo.OptionsURL = yamlCfg.Yahoo.OptionsURL
	}
	if yamlCfg.Yahoo.ChartURL != "" {
		cfg.Yahoo.ChartURL = yamlCfg.Yahoo.ChartURL
	}
	if yamlCfg.Yahoo.CookieURL != "" {
		cfg.Yahoo.CookieURL = yamlCfg.Yahoo.CookieURL
	}

	if yamlCfg.Alpaca.APIKey != "" && yamlCfg.Alpaca.APIKey != "YOUR_ALPACA_API_KEY" && os.Getenv("ALPACA_API_KEY") == "" {
		cfg.Alpaca.APIKey = yamlCfg.Alpaca.APIKey
	}
	if yamlCfg.Alpaca.SecretKey != "" && yamlCfg.Alpaca.SecretKey != "YOUR_ALPACA_SECRET_KEY" && os.Getenv("ALPACA_SECRET_KEY") == "" {
		cfg.Alpaca.SecretKey = yamlCfg.Alpaca.SecretKey
	}
	if yamlCfg.Alpaca.BaseURL != "" {
		cfg.Alpaca.BaseURL = yamlCfg.Alpaca.BaseURL
	}
	if yamlCfg.Alpaca.DataURL != "" {
		cfg.Alpaca.DataURL = yamlCfg.Alpaca.DataURL
	}

	if yamlCfg.Cache.Size > 0 {
		cfg.Cache.Size = yamlCfg.Cache.Size
	}
	if yamlCfg.Cache.SingleFlight != nil {
		cfg.Cache.SingleFlight = *yamlCfg.Cache.SingleFlight
	}

	// Logging configuration from YAML
	if yamlCfg.Logging.LogLevel != "" {
		cfg.Logging.LogLevel = yamlCfg.Logging.LogLevel
	}
	if yamlCfg.Logging.LogFile != "" {
		cfg.Logging.LogFile = yamlCfg.Logging.LogFile
	}
	if yamlCfg.Logging.Format != "" {
		cfg.Logging.Format = yamlCfg.Logging.Format
	}
	if yamlCfg.Logging.MaxSizeMB > 0 {
		cfg.Logging.MaxSizeMB = yamlCfg.Logging.MaxSizeMB
	}
	if yamlCfg.Logging.MaxBackups > 0 {
		cfg.Logging.MaxBackups = yamlCfg.Logging.MaxBackups
	}
	if yamlCfg.Logging.Console {
		cfg.Logging.Console = true
	}

	return cfg
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "yahoo":
	case "alpaca":
		if c.Alpaca.APIKey == "" {
			return fmt.Errorf("ALPACA_API_KEY is required (set in config.yaml or environment variable)")
		}
		if c.Alpaca.SecretKey == "" {
			return fmt.Errorf("ALPACA_SECRET_KEY is required (set in config.yaml or environment variable)")
		}
		if isPlaceholder(c.Alpaca.APIKey) {
			return fmt.Errorf("API key appears to be a placeholder - please set real credentials")
		}
		if isPlaceholder(c.Alpaca.SecretKey) {
			return fmt.Errorf("secret key appears to be a placeholder - please set real credentials")
		}
	default:
		return fmt.Errorf("unknown provider %q (expected yahoo or alpaca)", c.Provider.Name)
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.Cache.Size)
	}
	if c.Provider.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative")
	}
	return nil
}

// isPlaceholder catches obvious template values left in config files
func isPlaceholder(value string) bool {
	return strings.Contains(value, "<") || strings.Contains(value, ">") ||
		value == "YOUR_API_KEY" || value == "YOUR_SECRET_KEY" || value == "REPLACE_ME"
}

func loadYAMLConfig(path string) *YAMLConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		// Could not read config file - silently return nil
		return nil
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		// Could not parse config file - silently return nil
		return nil
	}

	return &yamlCfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
