package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jwaldner/chainsense/internal/analysis"
	"github.com/jwaldner/chainsense/internal/cache"
	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/utils"
)

var (
	// ErrInputRequired means the ticker or expiry was left blank
	ErrInputRequired = errors.New("ticker and expiry date are required")
	// ErrInvalidInput means a field was present but malformed
	ErrInvalidInput = errors.New("invalid request")
	// ErrProviderUnavailable means no usable chain could be fetched
	ErrProviderUnavailable = errors.New("option data unavailable")
)

// ChainSource is the subset of the provider manager the report flow needs
type ChainSource interface {
	ListExpiries(ctx context.Context, ticker string) ([]string, error)
	FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error)
	GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error)
}

type chainKey struct {
	Ticker string
	Expiry string
}

// ReportService resolves expiries and prices, fetches chains and runs the calculator
type ReportService struct {
	source   ChainSource
	calc     *analysis.Calculator
	expiries *cache.Memo[string, []string]
	chains   *cache.Memo[chainKey, *models.Chain]
}

// NewReportService creates a report service with its two lookup caches
func NewReportService(source ChainSource, calc *analysis.Calculator, cfg config.CacheConfig) (*ReportService, error) {
	expiries, err := cache.New[string, []string]("expiries", cfg.Size, cache.WithSingleFlight(cfg.SingleFlight))
	if err != nil {
		return nil, err
	}
	chains, err := cache.New[chainKey, *models.Chain]("chains", cfg.Size, cache.WithSingleFlight(cfg.SingleFlight))
	if err != nil {
		return nil, err
	}
	if calc == nil {
		calc = analysis.NewCalculator()
	}

	return &ReportService{
		source:   source,
		calc:     calc,
		expiries: expiries,
		chains:   chains,
	}, nil
}

// NormalizeTicker trims and upper-cases a ticker
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Expiries returns the ticker's listed expiries ascending and deduplicated.
// Any failure yields an empty list.
func (s *ReportService) Expiries(ctx context.Context, ticker string) []string {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return []string{}
	}

	dates, err := s.expiries.Get(ctx, ticker, func(ctx context.Context) ([]string, error) {
		listed, err := s.source.ListExpiries(ctx, ticker)
		if err != nil {
			return nil, err
		}
		listed = utils.NormalizeDates(listed)
		if len(listed) == 0 {
			return nil, providers.ErrNotFound
		}
		return listed, nil
	})
	if err != nil {
		logger.WithComponent("reports").WithField("ticker", ticker).Warnf("expiry lookup failed: %v", err)
		return []string{}
	}

	// callers must not be able to edit the cached slice
	return append([]string(nil), dates...)
}

// CurrentPrice resolves the live price, then the last close, rounded to
// cents. ok is false when neither is known.
func (s *ReportService) CurrentPrice(ctx context.Context, ticker string) (float64, bool) {
	ticker = NormalizeTicker(ticker)
	quote, err := s.source.GetQuote(ctx, ticker)
	if err != nil {
		logger.Warn.Printf("⚠️  price lookup for %s failed: %v", ticker, err)
		return 0, false
	}
	return ResolvePrice(quote)
}

// ResolvePrice applies the live-then-close order to a quote
func ResolvePrice(q *models.PriceQuote) (float64, bool) {
	if q == nil {
		return 0, false
	}
	for _, p := range []float64{q.Live, q.LastClose} {
		if p > 0 && !math.IsInf(p, 0) {
			return math.Round(p*100) / 100, true
		}
	}
	return 0, false
}

// chainPrice uses the live price delivered with the chain, saving a quote
// request. A close-only underlying still goes through CurrentPrice.
func chainPrice(chain *models.Chain) (float64, bool) {
	if chain.Underlying.Live <= 0 {
		return 0, false
	}
	return ResolvePrice(&models.PriceQuote{Live: chain.Underlying.Live})
}

// FetchChain returns the cached or freshly fetched chain for one expiry.
// A chain missing either side is reported as unavailable.
func (s *ReportService) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	key := chainKey{Ticker: NormalizeTicker(ticker), Expiry: strings.TrimSpace(expiry)}

	return s.chains.Get(ctx, key, func(ctx context.Context) (*models.Chain, error) {
		chain, err := s.source.FetchChain(ctx, key.Ticker, key.Expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		if chain == nil || len(chain.Calls) == 0 || len(chain.Puts) == 0 {
			logger.Info.Printf("📭 %s %s chain has an empty side", key.Ticker, key.Expiry)
			return nil, fmt.Errorf("%w: %s %s chain is empty", ErrProviderUnavailable, key.Ticker, key.Expiry)
		}
		return chain, nil
	})
}

// Analyze builds the analysis result for one ticker and expiry. Panics in
// the calculation are returned as errors.
func (s *ReportService) Analyze(ctx context.Context, ticker, expiry string) (result *models.AnalysisResult, err error) {
	ticker = NormalizeTicker(ticker)
	expiry = strings.TrimSpace(expiry)
	if ticker == "" || expiry == "" {
		return nil, ErrInputRequired
	}

	chain, err := s.FetchChain(ctx, ticker, expiry)
	if err != nil {
		return nil, err
	}

	price, hasPrice := chainPrice(chain)
	if !hasPrice {
		price, hasPrice = s.CurrentPrice(ctx, ticker)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error.Printf("❌ analysis of %s %s panicked: %v", ticker, expiry, r)
			result, err = nil, fmt.Errorf("%v", r)
		}
	}()

	result, err = s.calc.Analyze(analysis.Input{
		Ticker:   ticker,
		Expiry:   expiry,
		Calls:    chain.Calls,
		Puts:     chain.Puts,
		Price:    price,
		HasPrice: hasPrice,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"ticker":      ticker,
		"expiry":      result.ExpiryDate,
		"strategy":    result.Strategy,
		"reliability": result.Reliability.Score,
	}).Info("report computed")
	return result, nil
}

// CacheStats reports both lookup caches
func (s *ReportService) CacheStats() []cache.Stats {
	return []cache.Stats{s.expiries.Stats(), s.chains.Stats()}
}
