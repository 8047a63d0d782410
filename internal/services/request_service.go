package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Report output formats
const (
	FormatHTML = "html"
	FormatJSON = "json"
	FormatText = "text"
)

// ReportRequest is one ticker/expiry selection
type ReportRequest struct {
	Ticker     string `json:"ticker" validate:"required,ticker"`
	ExpiryDate string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Format     string `json:"format" validate:"omitempty,oneof=html json text"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-^=]{0,14}$`)

// RequestService handles HTTP request parsing
type RequestService struct {
	validate *validator.Validate
}

// NewRequestService creates a new request service
func NewRequestService() *RequestService {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("request validator setup: %v", err))
	}
	return &RequestService{validate: v}
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("registering ticker validation: %w", err)
	}
	return v, nil
}

// ParseReportRequest reads ticker, expiry_date and format from a JSON body
// or from form and query values
func (s *RequestService) ParseReportRequest(r *http.Request) (*ReportRequest, error) {
	var req ReportRequest

	if isJSON(r.Header.Get("Content-Type")) && r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: failed to decode request: %v", ErrInvalidInput, err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: failed to parse form: %v", ErrInvalidInput, err)
		}
		req.Ticker = r.FormValue("ticker")
		req.ExpiryDate = r.FormValue("expiry_date")
		req.Format = r.FormValue("format")
	}

	req.Ticker = NormalizeTicker(req.Ticker)
	req.ExpiryDate = strings.TrimSpace(req.ExpiryDate)
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))

	if err := s.Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseTicker reads the ticker query parameter
func (s *RequestService) ParseTicker(r *http.Request) (string, error) {
	ticker := NormalizeTicker(r.URL.Query().Get("ticker"))
	if ticker == "" {
		return "", ErrInputRequired
	}
	if !tickerPattern.MatchString(ticker) {
		return "", fmt.Errorf("%w: ticker %q", ErrInvalidInput, ticker)
	}
	return ticker, nil
}

// Validate checks a request; blank fields map to ErrInputRequired and
// malformed ones to ErrInvalidInput
func (s *RequestService) Validate(req *ReportRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return ErrInputRequired
		}
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("%w: bad %s", ErrInvalidInput, strings.Join(fields, ", "))
}

// WantsJSON reports whether the caller asked for a JSON answer
func WantsJSON(r *http.Request, format string) bool {
	if format != "" {
		return format == FormatJSON
	}
	return isJSON(r.Header.Get("Accept"))
}

func isJSON(header string) bool {
	for _, part := range strings.Split(header, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}
