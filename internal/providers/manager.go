package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/models"
)

// SlowRequestThreshold is the duration above which a call is logged as slow
const SlowRequestThreshold = 5 * time.Second

// ManagerStats counts calls made through a ProviderManager
type ManagerStats struct {
	Requests      int64 `json:"requests"`
	Failures      int64 `json:"failures"`
	Retries       int64 `json:"retries"`
	RateLimitHits int64 `json:"rate_limit_hits"`
}

// ProviderManager manages market data providers and provides performance monitoring
type ProviderManager struct {
	provider MarketProvider
	retry    RetryPolicy

	requests      atomic.Int64
	failures      atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
}

// NewProviderManager creates a new provider manager
func NewProviderManager(provider MarketProvider, retry RetryPolicy) *ProviderManager {
	return &ProviderManager{
		provider: provider,
		retry:    retry,
	}
}

// ListExpiries fetches expiry dates, retrying rate-limited attempts
func (pm *ProviderManager) ListExpiries(ctx context.Context, ticker string) ([]string, error) {
	var dates []string
	err := pm.retry.Do(ctx, func() error {
		var err error
		dates, err = timed(pm, "expiries "+ticker, func() ([]string, error) {
			return pm.provider.ListExpiries(ctx, ticker)
		})
		return err
	}, func(attempt int, wait time.Duration, err error) {
		pm.retries.Add(1)
		logger.Warn.Printf("⏳ %s rate limited listing %s expiries, retry %d/%d in %v: %v",
			pm.provider.GetProviderName(), ticker, attempt, pm.retry.Attempts, wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to list expiries: %w", pm.provider.GetProviderName(), err)
	}
	return dates, nil
}

// FetchChain is a convenience wrapper that adds logging
func (pm *ProviderManager) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	chain, err := timed(pm, "chain "+ticker+" "+expiry, func() (*models.Chain, error) {
		return pm.provider.FetchChain(ctx, ticker, expiry)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to fetch option chain: %w", pm.provider.GetProviderName(), err)
	}
	return chain, nil
}

// GetQuote is a convenience wrapper that adds logging
func (pm *ProviderManager) GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error) {
	quote, err := timed(pm, "quote "+ticker, func() (*models.PriceQuote, error) {
		return pm.provider.GetQuote(ctx, ticker)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to get quote: %w", pm.provider.GetProviderName(), err)
	}
	return quote, nil
}

// timed runs one provider call, counting it and logging it when slow
func timed[T any](pm *ProviderManager, what string, call func() (T, error)) (T, error) {
	pm.requests.Add(1)
	start := time.Now()
	out, err := call()
	elapsed := time.Since(start)

	if elapsed > SlowRequestThreshold {
		logger.Warn.Printf("⚠️  SLOW REQUEST: %s %s took %v", pm.provider.GetProviderName(), what, elapsed)
	}
	if err != nil {
		pm.failures.Add(1)
		if IsRateLimited(err) {
			pm.rateLimitHits.Add(1)
		}
		logger.Debug.Printf("❌ %s %s failed after %v: %v", pm.provider.GetProviderName(), what, elapsed, err)
	} else {
		logger.Verbose.Printf("📡 %s %s in %v", pm.provider.GetProviderName(), what, elapsed)
	}
	return out, err
}

// GetProvider returns the underlying provider
func (pm *ProviderManager) GetProvider() MarketProvider {
	return pm.provider
}

// GetProviderName returns the underlying provider's name
func (pm *ProviderManager) GetProviderName() string {
	return pm.provider.GetProviderName()
}

// Stats returns the manager's call counters
func (pm *ProviderManager) Stats() ManagerStats {
	return ManagerStats{
		Requests:      pm.requests.Load(),
		Failures:      pm.failures.Load(),
		Retries:       pm.retries.Load(),
		RateLimitHits: pm.rateLimitHits.Load(),
	}
}

// GetPerformanceReport returns a detailed performance report
func (pm *ProviderManager) GetPerformanceReport() string {
	stats := pm.provider.GetPerformanceStats()
	calls := pm.Stats()

	report := fmt.Sprintf(`
📊 Provider Performance Report (%s)
=====================================
Requests Made:      %d
Average Queue Time: %v
Average Network:    %v
Average Parse:      %v
Average Duration:   %v
Bytes Received:     %d
Rate Limit Hits:    %d
Failed Calls:       %d
Retry Attempts:     %d
`,
		pm.provider.GetProviderName(),
		stats.RequestCount,
		stats.QueueTime,
		stats.NetworkTime,
		stats.ParseTime,
		stats.RequestDuration,
		stats.BytesReceived,
		calls.RateLimitHits,
		calls.Failures,
		calls.Retries,
	)

	return report
}

// Close cleans up the provider
func (pm *ProviderManager) Close() error {
	return pm.provider.Close()
}
