package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/utils"
)

const (
	// Rate limiting for Alpaca Basic Plan (200 requests per minute)
	basicPlanDelay = 350 * time.Millisecond

	// HTTP timeout
	defaultTimeout = 30 * time.Second

	// pageLimit caps how many pages one listing may walk
	pageLimit = 20
)

// AlpacaProvider implements the MarketProvider interface for Alpaca Markets
type AlpacaProvider struct {
	apiKey     string
	secretKey  string
	baseURL    string
	dataURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time

	stats providers.StatsRecorder
}

// Option configures the provider
type Option func(*AlpacaProvider)

// WithURLs overrides the trading and market data hosts
func WithURLs(baseURL, dataURL string) Option {
	return func(a *AlpacaProvider) {
		if baseURL != "" {
			a.baseURL = strings.TrimRight(baseURL, "/")
		}
		if dataURL != "" {
			a.dataURL = strings.TrimRight(dataURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *AlpacaProvider) {
		a.httpClient = httpClient
	}
}

// WithRateLimit sets requests per second; the default is the Basic plan pace
func WithRateLimit(requestsPerSecond int) Option {
	return func(a *AlpacaProvider) {
		if requestsPerSecond > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		}
	}
}

// NewAlpacaProvider creates a new Alpaca market data provider
func NewAlpacaProvider(apiKey, secretKey string, opts ...Option) *AlpacaProvider {
	a := &AlpacaProvider{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   "https://api.alpaca.markets",
		dataURL:   "https://data.alpaca.markets",
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(basicPlanDelay), 1),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// GetProviderName returns the provider name
func (a *AlpacaProvider) GetProviderName() string {
	return "alpaca"
}

// GetPerformanceStats returns cumulative performance statistics
func (a *AlpacaProvider) GetPerformanceStats() providers.PerformanceMetrics {
	return a.stats.Snapshot()
}

// Close cleans up resources
func (a *AlpacaProvider) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

// Alpaca API response structures
type alpacaContractsResponse struct {
	Contracts     []alpacaContract `json:"option_contracts"`
	NextPageToken *string          `json:"next_page_token"`
}

type alpacaContract struct {
	Symbol         string       `json:"symbol"`
	ExpirationDate string       `json:"expiration_date"`
	Type           string       `json:"type"`
	StrikePrice    models.Float `json:"strike_price"`
	OpenInterest   models.Float `json:"open_interest"`
	ClosePrice     models.Float `json:"close_price"`
}

type alpacaSnapshotsResponse struct {
	Snapshots     map[string]alpacaSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

type alpacaSnapshot struct {
	LatestTrade struct {
		Price models.Float `json:"p"`
	} `json:"latestTrade"`
	LatestQuote struct {
		AskPrice models.Float `json:"ap"`
		BidPrice models.Float `json:"bp"`
	} `json:"latestQuote"`
	DailyBar     alpacaBar    `json:"dailyBar"`
	PrevDailyBar alpacaBar    `json:"prevDailyBar"`
	ImpliedVol   models.Float `json:"impliedVolatility"`
}

type alpacaBar struct {
	Close  models.Float `json:"c"`
	Volume models.Float `json:"v"`
}

type alpacaLatestTrade struct {
	Trade struct {
		Price models.Float `json:"p"`
	} `json:"trade"`
}

type alpacaLatestBar struct {
	Bar alpacaBar `json:"bar"`
}

// makeRequest handles HTTP requests with rate limiting and performance tracking
func (a *AlpacaProvider) makeRequest(ctx context.Context, host, endpoint string, params url.Values, result interface{}) (err error) {
	metrics := providers.PerformanceMetrics{RequestCount: 1}
	startTime := time.Now()
	defer func() {
		metrics.RequestDuration = time.Since(startTime)
		if err != nil {
			metrics.Failures = 1
			if providers.IsRateLimited(err) {
				metrics.RateLimitHits = 1
			}
		}
		a.stats.Record(metrics)
	}()

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	metrics.QueueTime = time.Since(startTime)

	reqURL := host + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// Add auth headers
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)

	logger.Verbose.Printf("📡 ALPACA API CALL: %s", reqURL)

	networkStart := time.Now()
	resp, err := a.httpClient.Do(req)
	metrics.NetworkTime = time.Since(networkStart)
	if err != nil {
		return fmt.Errorf("network request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	metrics.BytesReceived = int64(len(body))

	if err := providers.CheckStatus(a.GetProviderName(), endpoint, resp, body); err != nil {
		return err
	}

	parseStart := time.Now()
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("parsing %s response: %w", endpoint, err)
	}
	metrics.ParseTime = time.Since(parseStart)

	return nil
}

// contracts walks every page of the contracts listing
func (a *AlpacaProvider) contracts(ctx context.Context, params url.Values) ([]alpacaContract, error) {
	var all []alpacaContract
	params.Set("limit", "1000")

	for page := 0; page < pageLimit; page++ {
		var resp alpacaContractsResponse
		if err := a.makeRequest(ctx, a.baseURL, "/v2/options/contracts", params, &resp); err != nil {
			return nil, fmt.Errorf("options contracts request: %w", err)
		}
		all = append(all, resp.Contracts...)

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return all, nil
		}
		params.Set("page_token", *resp.NextPageToken)
	}

	logger.Warn.Printf("⚠️  ALPACA: contracts listing stopped after %d pages", pageLimit)
	return all, nil
}

// ListExpiries returns the distinct expiries of active contracts from today on
func (a *AlpacaProvider) ListExpiries(ctx context.Context, ticker string) ([]string, error) {
	params := url.Values{}
	params.Set("underlying_symbols", ticker)
	params.Set("status", "active")
	params.Set("expiration_date_gte", a.now().UTC().Format(utils.ISODate))

	contracts, err := a.contracts(ctx, params)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(contracts))
	for _, c := range contracts {
		dates = append(dates, c.ExpirationDate)
	}
	dates = utils.NormalizeDates(dates)
	if len(dates) == 0 {
		return nil, fmt.Errorf("%s has no listed expiries: %w", ticker, providers.ErrNotFound)
	}
	return dates, nil
}

// snapshots walks every page of the option snapshots for one expiry
func (a *AlpacaProvider) snapshots(ctx context.Context, ticker, expiry string) (map[string]alpacaSnapshot, error) {
	all := make(map[string]alpacaSnapshot)
	params := url.Values{}
	params.Set("expiration_date", expiry)
	params.Set("limit", "1000")
	endpoint := "/v1beta1/options/snapshots/" + url.PathEscape(ticker)

	for page := 0; page < pageLimit; page++ {
		var resp alpacaSnapshotsResponse
		if err := a.makeRequest(ctx, a.dataURL, endpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("option snapshots request: %w", err)
		}
		for symbol, snap := range resp.Snapshots {
			all[symbol] = snap
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		params.Set("page_token", *resp.NextPageToken)
	}
	return all, nil
}

// FetchChain joins contract listings (strike, open interest) with snapshots
// (IV, quote, volume, change) and returns each side sorted by strike
func (a *AlpacaProvider) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	params := url.Values{}
	params.Set("underlying_symbols", ticker)
	params.Set("expiration_date", expiry)

	contracts, err := a.contracts(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("%s %s: %w", ticker, expiry, providers.ErrNotFound)
	}

	snaps, err := a.snapshots(ctx, ticker, expiry)
	if err != nil {
		return nil, err
	}

	chain := &models.Chain{Ticker: ticker, Expiry: expiry}
	for _, c := range contracts {
		row := toContract(c, snaps[c.Symbol])
		switch strings.ToLower(c.Type) {
		case "call":
			chain.Calls = append(chain.Calls, row)
		case "put":
			chain.Puts = append(chain.Puts, row)
		}
	}

	// Sort by strike price (ascending)
	byStrike := func(rows []models.Contract) {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })
	}
	byStrike(chain.Calls)
	byStrike(chain.Puts)

	logger.Debug.Printf("📊 alpaca %s %s: %d calls, %d puts (%d snapshots)",
		ticker, expiry, len(chain.Calls), len(chain.Puts), len(snaps))
	return chain, nil
}

func toContract(c alpacaContract, s alpacaSnapshot) models.Contract {
	last := s.LatestTrade.Price.Value()
	if last == 0 {
		last = c.ClosePrice.Value()
	}

	row := models.Contract{
		ContractSymbol:    c.Symbol,
		Strike:            c.StrikePrice.Value(),
		LastPrice:         last,
		Bid:               s.LatestQuote.BidPrice.Value(),
		Ask:               s.LatestQuote.AskPrice.Value(),
		Volume:            s.DailyBar.Volume.Value(),
		OpenInterest:      c.OpenInterest.Value(),
		ImpliedVolatility: s.ImpliedVol.Value(),
	}

	today, prev := s.DailyBar.Close.Value(), s.PrevDailyBar.Close.Value()
	if today > 0 && prev > 0 {
		row.Change = today - prev
		row.PercentChange = row.Change / prev * 100
	}
	return row
}

// GetQuote returns the latest trade price and the latest daily bar close
func (a *AlpacaProvider) GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error) {
	quote := &models.PriceQuote{Symbol: ticker}
	sym := url.PathEscape(ticker)

	var trade alpacaLatestTrade
	tradeErr := a.makeRequest(ctx, a.dataURL, "/v2/stocks/"+sym+"/trades/latest", nil, &trade)
	if tradeErr == nil {
		quote.Live = trade.Trade.Price.Value()
	}

	var bar alpacaLatestBar
	barErr := a.makeRequest(ctx, a.dataURL, "/v2/stocks/"+sym+"/bars/latest", nil, &bar)
	if barErr == nil {
		quote.LastClose = bar.Bar.Close.Value()
	}

	if tradeErr != nil && barErr != nil {
		return nil, fmt.Errorf("stock price request: %w", errors.Join(tradeErr, barErr))
	}
	return quote, nil
}
