package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/utils"
)

const (
	// DefaultOptionsURL serves the v7 options endpoint
	DefaultOptionsURL = "https://query2.finance.yahoo.com"

	// DefaultChartURL serves the v8 chart endpoint and the crumb endpoint
	DefaultChartURL = "https://query1.finance.yahoo.com"

	// DefaultCookieURL hands out the session cookie the crumb is tied to
	DefaultCookieURL = "https://fc.yahoo.com"

	crumbPath = "/v1/test/getcrumb"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is requests per second
	DefaultRateLimit = 5

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) chainsense/1.0"
)

// YahooProvider implements the MarketProvider interface for Yahoo Finance
type YahooProvider struct {
	optionsURL string
	chartURL   string
	cookieURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	stats      providers.StatsRecorder

	crumbMu sync.Mutex
	crumb   string
}

// Option configures the provider
type Option func(*YahooProvider)

// WithBaseURL sets the options endpoint host
func WithBaseURL(baseURL string) Option {
	return func(p *YahooProvider) {
		p.optionsURL = strings.TrimRight(baseURL, "/")
	}
}

// WithChartURL sets the chart endpoint host
func WithChartURL(chartURL string) Option {
	return func(p *YahooProvider) {
		p.chartURL = strings.TrimRight(chartURL, "/")
	}
}

// WithCookieURL sets the session cookie host; "" skips the cookie and crumb handshake
func WithCookieURL(cookieURL string) Option {
	return func(p *YahooProvider) {
		p.cookieURL = strings.TrimRight(cookieURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(p *YahooProvider) {
		p.httpClient = httpClient
	}
}

// WithRateLimit sets a custom rate limit
func WithRateLimit(requestsPerSecond int) Option {
	return func(p *YahooProvider) {
		if requestsPerSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// NewYahooProvider creates a new Yahoo Finance option chain provider
func NewYahooProvider(opts ...Option) *YahooProvider {
	p := &YahooProvider{
		optionsURL: DefaultOptionsURL,
		chartURL:   DefaultChartURL,
		cookieURL:  DefaultCookieURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(p)
	}

	// the crumb is only valid together with the session cookie
	if p.cookieURL != "" && p.httpClient.Jar == nil {
		if jar, err := cookiejar.New(nil); err == nil {
			client := *p.httpClient
			client.Jar = jar
			p.httpClient = &client
		}
	}

	return p
}

// GetProviderName returns the provider name
func (p *YahooProvider) GetProviderName() string {
	return "yahoo"
}

// GetPerformanceStats returns cumulative performance statistics
func (p *YahooProvider) GetPerformanceStats() providers.PerformanceMetrics {
	return p.stats.Snapshot()
}

// Close cleans up resources
func (p *YahooProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Yahoo API response structures
type optionsResponse struct {
	OptionChain struct {
		Result []optionsResult `json:"result"`
		Error  *yahooError     `json:"error"`
	} `json:"optionChain"`
}

type optionsResult struct {
	UnderlyingSymbol string  `json:"underlyingSymbol"`
	ExpirationDates  []int64 `json:"expirationDates"`
	Quote            struct {
		RegularMarketPrice         models.Float `json:"regularMarketPrice"`
		RegularMarketPreviousClose models.Float `json:"regularMarketPreviousClose"`
	} `json:"quote"`
	Options []struct {
		ExpirationDate int64           `json:"expirationDate"`
		Calls          []yahooContract `json:"calls"`
		Puts           []yahooContract `json:"puts"`
	} `json:"options"`
}

type yahooContract struct {
	ContractSymbol    string       `json:"contractSymbol"`
	Strike            models.Float `json:"strike"`
	LastPrice         models.Float `json:"lastPrice"`
	Change            models.Float `json:"change"`
	PercentChange     models.Float `json:"percentChange"`
	Volume            models.Float `json:"volume"`
	OpenInterest      models.Float `json:"openInterest"`
	Bid               models.Float `json:"bid"`
	Ask               models.Float `json:"ask"`
	ImpliedVolatility models.Float `json:"impliedVolatility"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string       `json:"symbol"`
				RegularMarketPrice models.Float `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []models.Float `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// get handles HTTP requests with rate limiting and performance tracking
func (p *YahooProvider) get(ctx context.Context, base, path string, params url.Values, result interface{}) (err error) {
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
		p.stats.Record(metrics)
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	metrics.QueueTime = time.Since(startTime)

	reqURL := base + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	logger.Verbose.Printf("📡 YAHOO API CALL: %s", reqURL)

	networkStart := time.Now()
	resp, err := p.httpClient.Do(req)
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

	if err := providers.CheckStatus(p.GetProviderName(), path, resp, body); err != nil {
		return err
	}

	parseStart := time.Now()
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("parsing %s response: %w", path, err)
	}
	metrics.ParseTime = time.Since(parseStart)

	return nil
}

// sessionCrumb returns the cached crumb, running the cookie and crumb
// handshake on first use
func (p *YahooProvider) sessionCrumb(ctx context.Context) (string, error) {
	p.crumbMu.Lock()
	defer p.crumbMu.Unlock()
	if p.crumb != "" {
		return p.crumb, nil
	}

	// fc.yahoo.com answers 404 but still sets the cookie
	if _, err := p.fetchText(ctx, p.cookieURL); err != nil {
		return "", fmt.Errorf("fetching session cookie: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	resp, err := p.fetchText(ctx, p.chartURL+crumbPath)
	if err != nil {
		return "", fmt.Errorf("fetching crumb: %w", err)
	}
	if err := providers.CheckStatus(p.GetProviderName(), crumbPath, resp.response, resp.body); err != nil {
		return "", err
	}

	crumb := strings.TrimSpace(string(resp.body))
	if crumb == "" || strings.ContainsAny(crumb, "<{ ") {
		return "", fmt.Errorf("unexpected crumb response %q", truncate(crumb, 40))
	}
	logger.Debug.Printf("🍪 yahoo session crumb acquired")
	p.crumb = crumb
	return crumb, nil
}

func (p *YahooProvider) resetCrumb(stale string) {
	p.crumbMu.Lock()
	defer p.crumbMu.Unlock()
	if p.crumb == stale {
		p.crumb = ""
	}
}

type textResponse struct {
	response *http.Response
	body     []byte
}

func (p *YahooProvider) fetchText(ctx context.Context, reqURL string) (*textResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &textResponse{response: resp, body: body}, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (p *YahooProvider) options(ctx context.Context, ticker string, params url.Values) (*optionsResult, error) {
	var resp optionsResponse
	path := "/v7/finance/options/" + url.PathEscape(ticker)

	for attempt := 0; ; attempt++ {
		query := url.Values{}
		for k, v := range params {
			query[k] = v
		}

		crumb := ""
		if p.cookieURL != "" {
			var err error
			crumb, err = p.sessionCrumb(ctx)
			if err != nil {
				logger.Warn.Printf("⚠️  yahoo crumb unavailable, trying without it: %v", err)
			} else {
				query.Set("crumb", crumb)
			}
		}

		err := p.get(ctx, p.optionsURL, path, query, &resp)
		var apiErr *providers.APIError
		if crumb != "" && attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			// the session expired, fetch a fresh cookie and crumb once
			logger.Info.Printf("🍪 yahoo rejected the crumb, refreshing the session")
			p.resetCrumb(crumb)
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if e := resp.OptionChain.Error; e != nil {
		return nil, &providers.APIError{Provider: p.GetProviderName(), StatusCode: http.StatusOK, Message: e.Code + ": " + e.Description, Endpoint: path}
	}
	if len(resp.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, providers.ErrNotFound)
	}
	return &resp.OptionChain.Result[0], nil
}

// ListExpiries returns the listed expiries as sorted ISO dates
func (p *YahooProvider) ListExpiries(ctx context.Context, ticker string) ([]string, error) {
	res, err := p.options(ctx, ticker, nil)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(res.ExpirationDates))
	for _, sec := range res.ExpirationDates {
		dates = append(dates, utils.UnixToISO(sec))
	}
	dates = utils.NormalizeDates(dates)
	if len(dates) == 0 {
		return nil, fmt.Errorf("%s has no listed expiries: %w", ticker, providers.ErrNotFound)
	}
	return dates, nil
}

// FetchChain returns calls and puts for one expiry
func (p *YahooProvider) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	sec, err := utils.ISOToUnix(expiry)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry %q: %w", expiry, err)
	}

	res, err := p.options(ctx, ticker, url.Values{"date": []string{strconv.FormatInt(sec, 10)}})
	if err != nil {
		return nil, err
	}
	if len(res.Options) == 0 {
		return nil, fmt.Errorf("%s %s: %w", ticker, expiry, providers.ErrNotFound)
	}

	chain := &models.Chain{
		Ticker: ticker,
		Expiry: expiry,
		Calls:  toContracts(res.Options[0].Calls),
		Puts:   toContracts(res.Options[0].Puts),
		Underlying: models.PriceQuote{
			Symbol:    ticker,
			Live:      res.Quote.RegularMarketPrice.Value(),
			LastClose: res.Quote.RegularMarketPreviousClose.Value(),
		},
	}
	logger.Debug.Printf("📊 yahoo %s %s: %d calls, %d puts", ticker, expiry, len(chain.Calls), len(chain.Puts))
	return chain, nil
}

// GetQuote returns the regular-market price and the latest daily close
func (p *YahooProvider) GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error) {
	var resp chartResponse
	path := "/v8/finance/chart/" + url.PathEscape(ticker)
	params := url.Values{"range": []string{"5d"}, "interval": []string{"1d"}}
	if err := p.get(ctx, p.chartURL, path, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s quote: %w", ticker, providers.ErrNotFound)
	}

	res := resp.Chart.Result[0]
	quote := &models.PriceQuote{
		Symbol: ticker,
		Live:   res.Meta.RegularMarketPrice.Value(),
	}
	if len(res.Indicators.Quote) > 0 {
		closes := res.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i].Value() > 0 {
				quote.LastClose = closes[i].Value()
				break
			}
		}
	}
	return quote, nil
}

func toContracts(rows []yahooContract) []models.Contract {
	out := make([]models.Contract, len(rows))
	for i, r := range rows {
		out[i] = models.Contract{
			ContractSymbol:    r.ContractSymbol,
			Strike:            r.Strike.Value(),
			LastPrice:         r.LastPrice.Value(),
			Bid:               r.Bid.Value(),
			Ask:               r.Ask.Value(),
			Change:            r.Change.Value(),
			PercentChange:     r.PercentChange.Value(),
			Volume:            r.Volume.Value(),
			OpenInterest:      r.OpenInterest.Value(),
			ImpliedVolatility: r.ImpliedVolatility.Value(),
		}
	}
	return out
}
