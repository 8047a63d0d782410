package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwaldner/chainsense/internal/analysis"
	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
)

// fakeSource serves canned data and counts calls
type fakeSource struct {
	mu          sync.Mutex
	expiries    map[string][]string
	chains      map[string]*models.Chain
	quote       *models.PriceQuote
	expiryErr   error
	quoteErr    error
	expiryCalls int
	chainCalls  int
	quoteCalls  int
}

func (f *fakeSource) ListExpiries(ctx context.Context, ticker string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiryCalls++
	if f.expiryErr != nil {
		return nil, f.expiryErr
	}
	return f.expiries[ticker], nil
}

func (f *fakeSource) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainCalls++
	chain, ok := f.chains[ticker+"|"+expiry]
	if !ok {
		return nil, providers.ErrNotFound
	}
	return chain, nil
}

func (f *fakeSource) GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func abcChain() *models.Chain {
	return &models.Chain{
		Ticker: "ABC",
		Expiry: "2024-06-21",
		Calls: []models.Contract{{
			ContractSymbol: "ABC240621C00100000", Strike: 100, Volume: 500,
			OpenInterest: 1000, ImpliedVolatility: 0.25, Change: 1.0,
		}},
		Puts: []models.Contract{{
			ContractSymbol: "ABC240621P00100000", Strike: 100, Volume: 100,
			OpenInterest: 500, ImpliedVolatility: 0.30, Change: -0.5,
		}},
	}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		expiries: map[string][]string{
			"ABC": {"2024-07-19", "2024-06-21", "2024-06-21", "garbage"},
		},
		chains: map[string]*models.Chain{
			"ABC|2024-06-21": abcChain(),
			"ABC|2024-07-19": {Ticker: "ABC", Calls: abcChain().Calls},
		},
		quote: &models.PriceQuote{Symbol: "ABC", Live: 100.004},
	}
}

func newTestService(t *testing.T, src ChainSource) *ReportService {
	t.Helper()
	calc := &analysis.Calculator{Now: func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }}
	svc, err := NewReportService(src, calc, config.CacheConfig{Size: 32, SingleFlight: true})
	require.NoError(t, err)
	return svc
}

func TestExpiriesNormalizedAndCached(t *testing.T) {
	src := newFakeSource()
	svc := newTestService(t, src)
	ctx := context.Background()

	dates := svc.Expiries(ctx, " abc ")
	assert.Equal(t, []string{"2024-06-21", "2024-07-19"}, dates)

	// editing the returned slice does not reach the cache
	dates[0] = "mutated"
	assert.Equal(t, []string{"2024-06-21", "2024-07-19"}, svc.Expiries(ctx, "ABC"))
	assert.Equal(t, 1, src.expiryCalls)
}

func TestExpiriesFailuresAreEmptyAndNotCached(t *testing.T) {
	src := newFakeSource()
	src.expiryErr = errors.New("boom")
	svc := newTestService(t, src)
	ctx := context.Background()

	assert.Empty(t, svc.Expiries(ctx, "ABC"))
	assert.Empty(t, svc.Expiries(ctx, "ABC"))
	assert.Equal(t, 2, src.expiryCalls)

	assert.Empty(t, svc.Expiries(ctx, "UNKNOWN"))
	assert.NotNil(t, svc.Expiries(ctx, ""))
}

func TestResolvePrice(t *testing.T) {
	p, ok := ResolvePrice(&models.PriceQuote{Live: 187.456, LastClose: 180})
	assert.True(t, ok)
	assert.Equal(t, 187.46, p)

	p, ok = ResolvePrice(&models.PriceQuote{LastClose: 180.1})
	assert.True(t, ok)
	assert.Equal(t, 180.1, p)

	_, ok = ResolvePrice(&models.PriceQuote{})
	assert.False(t, ok)
	_, ok = ResolvePrice(nil)
	assert.False(t, ok)
}

func TestCurrentPriceUnavailable(t *testing.T) {
	src := newFakeSource()
	src.quoteErr = errors.New("no quote")
	svc := newTestService(t, src)

	_, ok := svc.CurrentPrice(context.Background(), "ABC")
	assert.False(t, ok)
}

func TestAnalyze(t *testing.T) {
	src := newFakeSource()
	svc := newTestService(t, src)

	res, err := svc.Analyze(context.Background(), "abc", "2024-06-21")
	require.NoError(t, err)
	assert.Equal(t, "ABC", res.Ticker)
	assert.Equal(t, 100.0, res.CurrentPrice)
	assert.Equal(t, models.PriceSourceMarket, res.PriceSource)
	assert.Equal(t, analysis.StrategyBuy, res.Strategy)

	_, err = svc.Analyze(context.Background(), "ABC", "2024-06-21")
	require.NoError(t, err)
	assert.Equal(t, 1, src.chainCalls)
}

func TestAnalyzeUsesChainUnderlyingPrice(t *testing.T) {
	src := newFakeSource()
	chain := abcChain()
	chain.Underlying = models.PriceQuote{Symbol: "ABC", Live: 101.456, LastClose: 99}
	src.chains["ABC|2024-06-21"] = chain
	svc := newTestService(t, src)

	res, err := svc.Analyze(context.Background(), "ABC", "2024-06-21")
	require.NoError(t, err)
	assert.Equal(t, 101.46, res.CurrentPrice)
	assert.Equal(t, models.PriceSourceMarket, res.PriceSource)
	assert.Equal(t, 0, src.quoteCalls)

	// without a live underlying price the quote endpoint is asked
	chain.Underlying = models.PriceQuote{LastClose: 99}
	svc = newTestService(t, src)
	res, err = svc.Analyze(context.Background(), "ABC", "2024-06-21")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.CurrentPrice)
	assert.Equal(t, 1, src.quoteCalls)
}

func TestAnalyzeFallsBackToMedianStrike(t *testing.T) {
	src := newFakeSource()
	src.quote = &models.PriceQuote{}
	svc := newTestService(t, src)

	res, err := svc.Analyze(context.Background(), "ABC", "2024-06-21")
	require.NoError(t, err)
	assert.Equal(t, models.PriceSourceMedianStrike, res.PriceSource)
	assert.Equal(t, 100.0, res.CurrentPrice)
}

func TestAnalyzeErrors(t *testing.T) {
	svc := newTestService(t, newFakeSource())
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "", "2024-06-21")
	assert.ErrorIs(t, err, ErrInputRequired)
	_, err = svc.Analyze(ctx, "ABC", "  ")
	assert.ErrorIs(t, err, ErrInputRequired)

	_, err = svc.Analyze(ctx, "ABC", "2030-01-18")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, providers.ErrNotFound)

	// a chain without puts is unavailable, not a calculator failure
	_, err = svc.Analyze(ctx, "ABC", "2024-07-19")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	src := newFakeSource()
	chain := abcChain()
	chain.Calls[0].Volume = 0
	src.chains["ABC|2024-06-21"] = chain
	svc := newTestService(t, src)

	_, err := svc.Analyze(context.Background(), "ABC", "2024-06-21")
	assert.ErrorIs(t, err, analysis.ErrInsufficientData)
}

func TestAnalyzeRecoversPanics(t *testing.T) {
	src := newFakeSource()
	svc := newTestService(t, src)
	svc.calc = &analysis.Calculator{Now: func() time.Time { panic("clock exploded") }}

	res, err := svc.Analyze(context.Background(), "ABC", "2024-06-21")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clock exploded")
}

func TestCacheStats(t *testing.T) {
	svc := newTestService(t, newFakeSource())
	svc.Expiries(context.Background(), "ABC")
	svc.Expiries(context.Background(), "ABC")

	stats := svc.CacheStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "expiries", stats[0].Name)
	assert.Equal(t, int64(1), stats[0].Hits)
	assert.Equal(t, "chains", stats[1].Name)
	assert.Equal(t, 32, stats[1].Size)
}
