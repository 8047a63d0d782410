package providers

import (
	"context"
	"time"

	"github.com/jwaldner/chainsense/internal/models"
)

// PerformanceMetrics tracks timing and performance data for provider operations
type PerformanceMetrics struct {
	RequestDuration time.Duration `json:"request_duration"`
	QueueTime       time.Duration `json:"queue_time"`   // Time waiting for rate limiter
	NetworkTime     time.Duration `json:"network_time"` // Actual HTTP request time
	ParseTime       time.Duration `json:"parse_time"`   // JSON parsing time
	RequestCount    int           `json:"request_count"`
	BytesReceived   int64         `json:"bytes_received"`
	RateLimitHits   int           `json:"rate_limit_hits"`
	Failures        int           `json:"failures"`
}

// MarketProvider defines the interface for option chain data sources
type MarketProvider interface {
	// ListExpiries returns the listed expiry dates (YYYY-MM-DD) for a ticker
	ListExpiries(ctx context.Context, ticker string) ([]string, error)

	// FetchChain returns both sides of the chain for one expiry
	FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error)

	// GetQuote returns the underlying's live and last-close prices
	GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error)

	// GetProviderName returns the name of the provider (e.g., "yahoo", "alpaca")
	GetProviderName() string

	// GetPerformanceStats returns cumulative performance statistics
	GetPerformanceStats() PerformanceMetrics

	// Close cleans up any resources (connections, rate limiters, etc.)
	Close() error
}
