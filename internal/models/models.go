package models

import (
	"encoding/json"
	"math"
	"time"
)

// Contract represents one option contract row of a chain
type Contract struct {
	ContractSymbol    string  `json:"contract_symbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"last_price"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Change            float64 `json:"change"`
	PercentChange     float64 `json:"percent_change"`
	Volume            float64 `json:"volume"`
	OpenInterest      float64 `json:"open_interest"`
	ImpliedVolatility float64 `json:"implied_volatility"` // fraction, not percent
}

// PriceQuote carries the raw underlying price fields a provider reports
type PriceQuote struct {
	Symbol    string  `json:"symbol"`
	Live      float64 `json:"live"`       // regular-market / latest trade price, 0 if unknown
	LastClose float64 `json:"last_close"` // most recent daily close, 0 if unknown
}

// Chain is both sides of an option chain for one (ticker, expiry) pair
type Chain struct {
	Ticker     string     `json:"ticker"`
	Expiry     string     `json:"expiry"`
	Calls      []Contract `json:"calls"`
	Puts       []Contract `json:"puts"`
	Underlying PriceQuote `json:"underlying"` // price fields delivered with the chain, may be zero
}

// ContractSummary describes the most traded contract on one side
type ContractSummary struct {
	Strike       float64 `json:"strike"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
}

// TopOptions holds the most traded call and put
type TopOptions struct {
	Call ContractSummary `json:"call"`
	Put  ContractSummary `json:"put"`
}

// MarketSentiment groups the put/call and volatility readings
type MarketSentiment struct {
	PutCallRatio     Ratio   `json:"put_call_ratio"`
	PutCallSentiment string  `json:"put_call_sentiment"`
	IVSkew           float64 `json:"iv_skew"`
	IVSkewSentiment  string  `json:"iv_skew_sentiment"`
	MeanIV           float64 `json:"mean_iv"`
	MeanIVCaption    string  `json:"mean_iv_caption"`
}

// Reliability is the weighted confidence score with its sub-scores
type Reliability struct {
	Score       float64 `json:"score"`
	Message     string  `json:"message"`
	VolumeScore float64 `json:"volume_score"`
	OIScore     float64 `json:"oi_score"`
	ATMScore    float64 `json:"atm_score"`
	TimeScore   float64 `json:"time_score"`
}

// BoxRange is the weighted support/resistance band; both ends are set or neither
type BoxRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Present reports whether both ends of the band are known
func (b BoxRange) Present() bool {
	return b.Min != nil && b.Max != nil
}

// ChartData is exposed as parallel series for the client-side chart.
// Call series follow the call set's row order, put series the put set's.
type ChartData struct {
	Strikes    []float64 `json:"strikes"`
	CallOI     []float64 `json:"call_oi"`
	CallVolume []float64 `json:"call_volume"`
	PutStrikes []float64 `json:"put_strikes"`
	PutOI      []float64 `json:"put_oi"`
	PutVolume  []float64 `json:"put_volume"`
}

// Signals records the intermediate flags the strategy was chosen from
type Signals struct {
	Bullish       bool    `json:"bullish"`
	Bearish       bool    `json:"bearish"`
	HighIV        bool    `json:"high_iv"`
	PositiveSkew  bool    `json:"positive_skew"`
	NegativeSkew  bool    `json:"negative_skew"`
	DaysToExpiry  int     `json:"days_to_expiry"`
	CallATMStrike float64 `json:"call_atm_strike"`
	PutATMStrike  float64 `json:"put_atm_strike"`
	CallATMIV     float64 `json:"call_atm_iv"`
	PutATMIV      float64 `json:"put_atm_iv"`
	CallVolume    float64 `json:"total_call_volume"`
	PutVolume     float64 `json:"total_put_volume"`
	CallOI        float64 `json:"total_call_oi"`
	PutOI         float64 `json:"total_put_oi"`
}

// Price sources recorded on a result
const (
	PriceSourceMarket       = "market"
	PriceSourceMedianStrike = "median_strike"
)

// AnalysisResult is built once per (ticker, expiry, price) and never mutated
type AnalysisResult struct {
	Ticker       string          `json:"ticker"`
	ExpiryDate   string          `json:"expiry_date"`
	CurrentPrice float64         `json:"current_price"`
	PriceSource  string          `json:"price_source"`
	Strategy     string          `json:"strategy"`
	Sentiment    MarketSentiment `json:"market_sentiment"`
	Reliability  Reliability     `json:"reliability"`
	TopOptions   TopOptions      `json:"top_options"`
	BoxRange     BoxRange        `json:"box_range"`
	Chart        ChartData       `json:"chart_data"`
	Signals      Signals         `json:"signals"`
	GeneratedAt  *time.Time      `json:"generated_at,omitempty"` // stamped when served
}

// Ratio is a float that may be +Inf; JSON has no infinity so it encodes as null
type Ratio float64

// IsInf reports whether the ratio is unbounded
func (r Ratio) IsInf() bool {
	return math.IsInf(float64(r), 0)
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}
