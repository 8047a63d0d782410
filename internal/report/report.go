// Package report renders analysis results for people: an HTML fragment for
// the report page and plain text for the terminal.
package report

import (
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/jwaldner/chainsense/internal/analysis"
	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/providers"
	"github.com/jwaldner/chainsense/internal/services"
)

// Format selects the line-break and escaping rules of a rendering
type Format int

const (
	FormatText Format = iota
	FormatHTML
)

// Kind classifies a failure for display
type Kind int

const (
	KindNone Kind = iota
	KindInput
	KindInvalid
	KindUnavailable
	KindInsufficient
	KindInternal
)

const (
	MsgInputRequired = "ticker and expiry date are both required"
	MsgInvalidInput  = "invalid ticker or expiry date"
	MsgUnavailable   = "could not fetch option data, choose another expiry"
	msgFailedPrefix  = "analysis failed: "
)

// Render lays the result out the same way for both targets. Only the line
// break and escaping differ.
func Render(r *models.AnalysisResult, f Format) string {
	s := r.Sentiment
	lines := []string{
		fmt.Sprintf("📌 %s options analysis report", r.Ticker),
		"",
		r.Strategy,
		fmt.Sprintf("📅 Reference expiry: %s", r.ExpiryDate),
		fmt.Sprintf("💰 Current price: $%s", Num(r.CurrentPrice)),
		"",
		"🔥 Most traded options",
		fmt.Sprintf("- 📈 Call strike: $%s", Num(r.TopOptions.Call.Strike)),
		fmt.Sprintf("    - Volume : %d", int64(r.TopOptions.Call.Volume)),
		fmt.Sprintf("    - OI : %d", int64(r.TopOptions.Call.OpenInterest)),
		fmt.Sprintf("- 📉 Put strike: $%s", Num(r.TopOptions.Put.Strike)),
		fmt.Sprintf("    - Volume : %d", int64(r.TopOptions.Put.Volume)),
		fmt.Sprintf("    - OI : %d", int64(r.TopOptions.Put.OpenInterest)),
		"",
		"📊 Market sentiment",
		fmt.Sprintf("- 🔄 Put/Call Ratio: %s (%s)", Ratio(float64(s.PutCallRatio)), s.PutCallSentiment),
		fmt.Sprintf("- 🔄 IV Skew (Put - Call): %.2f%% (%s)", s.IVSkew, s.IVSkewSentiment),
		fmt.Sprintf("- 📌 Real-time volatility: %.1f%% (%s)", s.MeanIV, s.MeanIVCaption),
		"",
		"📈 Reliability",
		fmt.Sprintf("- 🧮 Reliability index: %s / 1.00", Num(r.Reliability.Score)),
		fmt.Sprintf("- 📘 Interpretation: %s", r.Reliability.Message),
	}

	if r.BoxRange.Present() {
		lines = append(lines, "", "",
			fmt.Sprintf("📦 Expected trading box: $%.1f ~ $%.1f", *r.BoxRange.Min, *r.BoxRange.Max))
	}

	return join(lines, f)
}

// RenderError renders a failure message in place of a report
func RenderError(err error, f Format) string {
	return join([]string{"❌ " + ErrorMessage(err)}, f)
}

func join(lines []string, f Format) string {
	if f == FormatHTML {
		escaped := make([]string, len(lines))
		for i, l := range lines {
			escaped[i] = html.EscapeString(l)
		}
		return strings.Join(escaped, "<br>")
	}
	return strings.Join(lines, "\n")
}

// Classify maps an error to the failure kind shown to the user
func Classify(err error) Kind {
	var rateErr *providers.RateLimitError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, services.ErrInputRequired):
		return KindInput
	case errors.Is(err, services.ErrInvalidInput):
		return KindInvalid
	case errors.Is(err, analysis.ErrInsufficientData):
		return KindInsufficient
	case errors.Is(err, services.ErrProviderUnavailable),
		errors.Is(err, analysis.ErrNoData),
		errors.Is(err, providers.ErrNotFound),
		errors.As(err, &rateErr):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// ErrorMessage is the user-facing text for an error
func ErrorMessage(err error) string {
	switch Classify(err) {
	case KindNone:
		return ""
	case KindInput:
		return MsgInputRequired
	case KindInvalid:
		return MsgInvalidInput
	case KindUnavailable:
		return MsgUnavailable
	case KindInsufficient:
		return analysis.ErrInsufficientData.Error()
	default:
		return msgFailedPrefix + err.Error()
	}
}

// Num prints a float in its shortest exact form, keeping ".0" on whole numbers
func Num(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 0):
		return Ratio(v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Ratio prints a put/call ratio to two places; unbounded ratios print "inf"
func Ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
