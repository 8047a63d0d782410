package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jwaldner/chainsense/internal/logger"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/report"
	"github.com/jwaldner/chainsense/internal/services"
	"github.com/jwaldner/chainsense/web"
)

const (
	msgTickerRequired = "ticker required"
	msgNoExpiries     = "no valid expiries found"
)

// ProviderStatus is what the health endpoint reports about the data provider
type ProviderStatus interface {
	GetProviderName() string
	Stats() providers.ManagerStats
	GetPerformanceReport() string
}

// ReportHandler serves the index form, the expiry lookup and the reports
type ReportHandler struct {
	reports   *services.ReportService
	requests  *services.RequestService
	status    ProviderStatus
	templates *templateSet
}

// reportPage is the data behind report.html
type reportPage struct {
	Ticker  string
	Expiry  string
	Content template.HTML
	IsError bool
	Chart   *models.ChartData
}

// NewReportHandler creates the handler. A non-empty templatesDir makes
// pages load from disk on every request instead of the embedded copies.
func NewReportHandler(reports *services.ReportService, status ProviderStatus, templatesDir string) (*ReportHandler, error) {
	templates, err := newTemplateSet(templatesDir)
	if err != nil {
		return nil, err
	}
	return &ReportHandler{
		reports:   reports,
		requests:  services.NewRequestService(),
		status:    status,
		templates: templates,
	}, nil
}

// Register mounts the routes and middleware on r
func (h *ReportHandler) Register(r *mux.Router) {
	r.Use(RequestID, AccessLog, CORS)

	r.HandleFunc("/", h.HomeHandler).Methods(http.MethodGet)
	r.HandleFunc("/get-expiry-dates", h.ExpiryDatesHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/report", h.ReportPageHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/report", h.APIReportHandler).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet, http.MethodOptions)
}

// HomeHandler serves the ticker/expiry form
func (h *ReportHandler) HomeHandler(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "index.html", nil)
}

// ExpiryDatesHandler returns the listed expiries of a ticker as a JSON array
func (h *ReportHandler) ExpiryDatesHandler(w http.ResponseWriter, r *http.Request) {
	ticker, err := h.requests.ParseTicker(r)
	if errors.Is(err, services.ErrInputRequired) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgTickerRequired})
		return
	}
	if err != nil {
		logger.Info.Printf("📭 Rejected expiry lookup: %v", err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": msgNoExpiries})
		return
	}

	dates := h.reports.Expiries(r.Context(), ticker)
	if len(dates) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": msgNoExpiries})
		return
	}

	logger.Info.Printf("📅 %s: %d expiries", ticker, len(dates))
	writeJSON(w, http.StatusOK, dates)
}

// ReportPageHandler renders the report page for a submitted form. Failures
// are shown in place of the report; only missing or malformed input is a 4xx.
func (h *ReportHandler) ReportPageHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.ParseReportRequest(r)
	format := ""
	if req != nil {
		format = req.Format
	}
	if services.WantsJSON(r, format) {
		h.serveJSON(w, r, req, err)
		return
	}

	if err != nil {
		h.render(w, http.StatusBadRequest, "report.html", reportPage{
			Content: template.HTML(report.RenderError(err, report.FormatHTML)),
			IsError: true,
		})
		return
	}

	page := reportPage{Ticker: req.Ticker, Expiry: req.ExpiryDate}
	result, err := h.reports.Analyze(r.Context(), req.Ticker, req.ExpiryDate)
	if err != nil {
		logger.Warn.Printf("⚠️  Report for %s %s failed: %v", req.Ticker, req.ExpiryDate, err)
		page.Content = template.HTML(report.RenderError(err, report.FormatHTML))
		page.IsError = true
	} else {
		page.Content = template.HTML(report.Render(result, report.FormatHTML))
		page.Chart = &result.Chart
	}

	h.render(w, http.StatusOK, "report.html", page)
}

// APIReportHandler returns the analysis as JSON, or as plain text with format=text
func (h *ReportHandler) APIReportHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.ParseReportRequest(r)
	if err == nil && req.Format == services.FormatText {
		h.serveText(w, r, req)
		return
	}
	h.serveJSON(w, r, req, err)
}

func (h *ReportHandler) serveJSON(w http.ResponseWriter, r *http.Request, req *services.ReportRequest, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.reports.Analyze(r.Context(), req.Ticker, req.ExpiryDate)
	if err != nil {
		logger.Warn.Printf("⚠️  Report for %s %s failed: %v", req.Ticker, req.ExpiryDate, err)
		writeError(w, err)
		return
	}
	generatedAt := time.Now().UTC()
	result.GeneratedAt = &generatedAt
	writeJSON(w, http.StatusOK, result)
}

func (h *ReportHandler) serveText(w http.ResponseWriter, r *http.Request, req *services.ReportRequest) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	result, err := h.reports.Analyze(r.Context(), req.Ticker, req.ExpiryDate)
	if err != nil {
		w.WriteHeader(apiStatus(err))
		fmt.Fprintln(w, report.RenderError(err, report.FormatText))
		return
	}
	fmt.Fprintln(w, report.Render(result, report.FormatText))
}

// HealthHandler reports the provider, its counters and the cache state
func (h *ReportHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":             "ok",
		"provider":           h.status.GetProviderName(),
		"provider_stats":     h.status.Stats(),
		"performance_report": h.status.GetPerformanceReport(),
		"caches":             h.reports.CacheStats(),
		"timestamp":          time.Now().Unix(),
	}
	writeJSON(w, http.StatusOK, response)
}

// apiStatus maps a failure to the status code API clients see
func apiStatus(err error) int {
	switch report.Classify(err) {
	case report.KindInput, report.KindInvalid:
		return http.StatusBadRequest
	case report.KindInsufficient:
		return http.StatusUnprocessableEntity
	case report.KindUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apiStatus(err), map[string]string{"error": report.ErrorMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("❌ Failed to encode response: %v", err)
	}
}

func (h *ReportHandler) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := h.templates.execute(&buf, name, data); err != nil {
		logger.Error.Printf("❌ Template %s failed: %v", name, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// templateSet holds the embedded pages and an optional on-disk override
type templateSet struct {
	dir      string
	embedded *template.Template
}

func newTemplateSet(dir string) (*templateSet, error) {
	embedded, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	return &templateSet{dir: strings.TrimSpace(dir), embedded: embedded}, nil
}

func (s *templateSet) execute(buf *bytes.Buffer, name string, data interface{}) error {
	if s.dir != "" {
		// re-read every time so edits show up without a rebuild
		tmpl, err := template.ParseFiles(filepath.Join(s.dir, name))
		if err == nil {
			return tmpl.ExecuteTemplate(buf, name, data)
		}
		logger.Warn.Printf("⚠️  Template override %s unusable, using embedded copy: %v", name, err)
	}
	return s.embedded.ExecuteTemplate(buf, name, data)
}
