package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwaldner/chainsense/internal/analysis"
	"github.com/jwaldner/chainsense/internal/config"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/report"
	"github.com/jwaldner/chainsense/internal/services"
)

type stubSource struct {
	expiries map[string][]string
	chains   map[string]*models.Chain
}

func (s *stubSource) ListExpiries(ctx context.Context, ticker string) ([]string, error) {
	dates, ok := s.expiries[ticker]
	if !ok {
		return nil, providers.ErrNotFound
	}
	return dates, nil
}

func (s *stubSource) FetchChain(ctx context.Context, ticker, expiry string) (*models.Chain, error) {
	chain, ok := s.chains[ticker+"|"+expiry]
	if !ok {
		return nil, providers.ErrNotFound
	}
	return chain, nil
}

func (s *stubSource) GetQuote(ctx context.Context, ticker string) (*models.PriceQuote, error) {
	return &models.PriceQuote{Symbol: ticker, Live: 100}, nil
}

type stubStatus struct{}

func (stubStatus) GetProviderName() string { return "stub" }
func (stubStatus) Stats() providers.ManagerStats {
	return providers.ManagerStats{Requests: 3, Failures: 1}
}
func (stubStatus) GetPerformanceReport() string { return "📊 Provider Performance Report (stub)" }

func abcChain(callVolume float64) *models.Chain {
	return &models.Chain{
		Ticker: "ABC",
		Calls: []models.Contract{{
			ContractSymbol: "ABC240621C00100000", Strike: 100, Volume: callVolume,
			OpenInterest: 1000, ImpliedVolatility: 0.25, Change: 1.0,
		}},
		Puts: []models.Contract{{
			ContractSymbol: "ABC240621P00100000", Strike: 100, Volume: 100,
			OpenInterest: 500, ImpliedVolatility: 0.30, Change: -0.5,
		}},
	}
}

func newTestRouter(t *testing.T, templatesDir string) *mux.Router {
	t.Helper()
	src := &stubSource{
		expiries: map[string][]string{"ABC": {"2024-07-19", "2024-06-21"}},
		chains: map[string]*models.Chain{
			"ABC|2024-06-21": abcChain(500),
			"ABC|2024-07-19": abcChain(0),
		},
	}
	calc := &analysis.Calculator{Now: func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }}
	svc, err := services.NewReportService(src, calc, config.CacheConfig{Size: 8})
	require.NoError(t, err)

	h, err := NewReportHandler(svc, stubStatus{}, templatesDir)
	require.NoError(t, err)

	r := mux.NewRouter()
	h.Register(r)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHomeHandler(t *testing.T) {
	r := newTestRouter(t, "")
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `action="/report"`)
	assert.Contains(t, rec.Body.String(), "/get-expiry-dates?ticker=")
}

func TestExpiryDatesHandler(t *testing.T) {
	r := newTestRouter(t, "")

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/get-expiry-dates?ticker=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var dates []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dates))
	assert.Equal(t, []string{"2024-06-21", "2024-07-19"}, dates)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/get-expiry-dates", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ticker required", decodeError(t, rec))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/get-expiry-dates?ticker=ZZZZ", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no valid expiries found", decodeError(t, rec))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/get-expiry-dates?ticker=%3Cscript%3E", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportPage(t *testing.T) {
	r := newTestRouter(t, "")
	rec := serve(r, postForm("/report", url.Values{"ticker": {"abc"}, "expiry_date": {"2024-06-21"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "📌 ABC options analysis report<br>")
	assert.Contains(t, body, analysis.StrategyBuy)
	assert.Contains(t, body, `<canvas id="chart"`)
	assert.Contains(t, body, `"call_oi":[1000]`)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestReportPageFailures(t *testing.T) {
	r := newTestRouter(t, "")

	rec := serve(r, postForm("/report", url.Values{"ticker": {"ABC"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), report.MsgInputRequired)

	// provider failures render in the page rather than as an error status
	rec = serve(r, postForm("/report", url.Values{"ticker": {"ABC"}, "expiry_date": {"2030-01-18"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), report.MsgUnavailable)
	assert.NotContains(t, rec.Body.String(), `<canvas`)

	rec = serve(r, postForm("/report", url.Values{"ticker": {"ABC"}, "expiry_date": {"2024-07-19"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient data")
}

func TestReportPageJSON(t *testing.T) {
	r := newTestRouter(t, "")

	rec := serve(r, postForm("/report", url.Values{"ticker": {"ABC"}, "expiry_date": {"2024-06-21"}, "format": {"json"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := postForm("/report", url.Values{"ticker": {"ABC"}})
	req.Header.Set("Accept", "application/json")
	rec = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, report.MsgInputRequired, decodeError(t, rec))
}

func TestAPIReport(t *testing.T) {
	r := newTestRouter(t, "")

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/report?ticker=ABC&expiry_date=2024-06-21", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		GeneratedAt *time.Time `json:"generated_at"`
		Ticker      string     `json:"ticker"`
		Strategy    string     `json:"strategy"`
		Sentiment   struct {
			PutCallRatio float64 `json:"put_call_ratio"`
		} `json:"market_sentiment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ABC", result.Ticker)
	assert.Equal(t, analysis.StrategyBuy, result.Strategy)
	assert.Equal(t, 0.2, result.Sentiment.PutCallRatio)
	require.NotNil(t, result.GeneratedAt)
	assert.WithinDuration(t, time.Now(), *result.GeneratedAt, time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/report",
		strings.NewReader(`{"ticker":"abc","expiry_date":"2024-06-21"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIReportStatusCodes(t *testing.T) {
	r := newTestRouter(t, "")

	cases := []struct {
		target string
		status int
		msg    string
	}{
		{"/api/report?ticker=ABC", http.StatusBadRequest, report.MsgInputRequired},
		{"/api/report?ticker=ABC&expiry_date=21-06-2024", http.StatusBadRequest, report.MsgInvalidInput},
		{"/api/report?ticker=ABC&expiry_date=2030-01-18", http.StatusBadGateway, report.MsgUnavailable},
		{"/api/report?ticker=ABC&expiry_date=2024-07-19", http.StatusUnprocessableEntity, analysis.ErrInsufficientData.Error()},
	}
	for _, tc := range cases {
		rec := serve(r, httptest.NewRequest(http.MethodGet, tc.target, nil))
		assert.Equal(t, tc.status, rec.Code, tc.target)
		assert.Equal(t, tc.msg, decodeError(t, rec), tc.target)
	}
}

func TestAPIReportText(t *testing.T) {
	r := newTestRouter(t, "")

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/report?ticker=ABC&expiry_date=2024-06-21&format=text", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "📌 ABC options analysis report\n"))
	assert.NotContains(t, rec.Body.String(), "<br>")

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/report?ticker=ABC&expiry_date=2030-01-18&format=text", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "❌ "+report.MsgUnavailable+"\n", rec.Body.String())
}

func TestHealthHandler(t *testing.T) {
	r := newTestRouter(t, "")
	serve(r, httptest.NewRequest(http.MethodGet, "/get-expiry-dates?ticker=ABC", nil))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Provider string `json:"provider"`
		Report   string `json:"performance_report"`
		Caches   []struct {
			Name   string `json:"name"`
			Misses int64  `json:"misses"`
		} `json:"caches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "stub", body.Provider)
	assert.Contains(t, body.Report, "Performance Report")
	require.Len(t, body.Caches, 2)
	assert.Equal(t, int64(1), body.Caches[0].Misses)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, "")
	rec := serve(r, httptest.NewRequest(http.MethodOptions, "/api/report", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, rec.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	r := newTestRouter(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	rec := serve(r, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
}

func TestTemplatesDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(`custom {{"form"}}`), 0o644))

	r := newTestRouter(t, dir)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "custom form", rec.Body.String())

	// report.html is missing from the override dir, so the embedded page is used
	rec = serve(r, postForm("/report", url.Values{"ticker": {"ABC"}, "expiry_date": {"2024-06-21"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "options analysis report")
}
