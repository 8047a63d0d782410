// Package app wires the configured provider, manager and report service.
package app

import (
	"fmt"
	"net/http"

	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/providers/alpaca"
	"github.com/jwaldner/chainsense/internal/providers/yahoo"
	"github.com/jwaldner/chainsense/internal/services"
)

// App holds the long-lived components shared by the server and the CLI
type App struct {
	Config  *config.Config
	Manager *providers.ProviderManager
	Reports *services.ReportService
}

// NewProvider builds the market data gateway named by cfg.Provider.Name
func NewProvider(cfg *config.Config) (providers.MarketProvider, error) {
	httpClient := &http.Client{Timeout: cfg.Provider.Timeout}

	switch cfg.Provider.Name {
	case "", "yahoo":
		logger.Info.Printf("📡 Using Yahoo Finance provider - %s", cfg.Yahoo.OptionsURL)
		return yahoo.NewYahooProvider(
			yahoo.WithBaseURL(cfg.Yahoo.OptionsURL),
			yahoo.WithChartURL(cfg.Yahoo.ChartURL),
			yahoo.WithCookieURL(cfg.Yahoo.CookieURL),
			yahoo.WithHTTPClient(httpClient),
			yahoo.WithRateLimit(cfg.Provider.RateLimit),
		), nil
	case "alpaca":
		logger.Info.Printf("📡 Using Alpaca provider - %s", cfg.Alpaca.DataURL)
		return alpaca.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.SecretKey,
			alpaca.WithURLs(cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL),
			alpaca.WithHTTPClient(httpClient),
			alpaca.WithRateLimit(cfg.Provider.RateLimit),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// New validates cfg and builds the provider manager and report service
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	manager := providers.NewProviderManager(provider, providers.RetryPolicy{
		Attempts: cfg.Provider.RetryAttempts,
		Backoff:  cfg.Provider.RetryBackoff,
	})

	reports, err := services.NewReportService(manager, nil, cfg.Cache)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create report service: %w", err)
	}

	return &App{Config: cfg, Manager: manager, Reports: reports}, nil
}

// Close releases the provider
func (a *App) Close() error {
	return a.Manager.Close()
}
