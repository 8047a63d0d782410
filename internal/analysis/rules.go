package analysis

import "math"

// Put/call ratio captions
const (
	PutCallExtremeBearish = "extreme bearish"
	PutCallBearish        = "bearish"
	PutCallBullish        = "bullish"
	PutCallExtremeBullish = "extreme bullish"
)

// IV skew captions
const (
	SkewExtremeFear   = "extreme fear"
	SkewMildBearish   = "mild bearish caution"
	SkewNeutral       = "neutral"
	SkewStrongBullish = "strong bullish/speculative"
)

// Reliability messages
const (
	ReliabilityHigh     = "high confidence"
	ReliabilityModerate = "moderate confidence, interpret with caution"
	ReliabilityLow      = "low confidence, reference only"
)

// Mean IV captions
const (
	VolatilityHigh   = "high volatility"
	VolatilityNormal = "normal volatility"
)

// Strategy labels
const (
	StrategyVeryStrongBuy    = "very strong buy"
	StrategyCautiousBuyVol   = "cautious buy (volatility risk)"
	StrategyBuy              = "buy signal"
	StrategyCautiousBuy      = "cautious buy (uncertain)"
	StrategyVeryStrongSell   = "very strong sell"
	StrategyCautiousSellVol  = "cautious sell (volatility caution)"
	StrategySell             = "general sell, low risk"
	StrategyCautiousSell     = "cautious sell (uncertain)"
	StrategyFearReinforcing  = "fear reinforcing"
	StrategyCautiousOptimism = "cautious optimism"
	StrategyNeutral          = "neutral, no clear direction"
)

// Thresholds
const (
	skewSignificant     = 2.0
	highMeanIV          = 30.0
	highATMSpread       = 5.0
	atmBand             = 0.05
	boxBand             = 0.30
	volumeNorm          = 100000.0
	oiNorm              = 200000.0
	defaultDaysToExpiry = 30
)

// threshold rules are evaluated in order; the first match wins
type thresholdRule struct {
	match func(float64) bool
	label string
}

func classify(rules []thresholdRule, v float64, fallback string) string {
	for _, r := range rules {
		if r.match(v) {
			return r.label
		}
	}
	return fallback
}

var putCallRules = []thresholdRule{
	{func(r float64) bool { return r >= 1.2 }, PutCallExtremeBearish},
	{func(r float64) bool { return r >= 1.0 }, PutCallBearish},
	{func(r float64) bool { return r >= 0.7 }, PutCallBullish},
}

var skewRules = []thresholdRule{
	{func(s float64) bool { return s > 5 }, SkewExtremeFear},
	{func(s float64) bool { return s >= 1 }, SkewMildBearish},
	{func(s float64) bool { return s >= -1 }, SkewNeutral},
}

var reliabilityRules = []thresholdRule{
	{func(s float64) bool { return s >= 0.8 }, ReliabilityHigh},
	{func(s float64) bool { return s >= 0.6 }, ReliabilityModerate},
}

// ClassifyPutCall captions a put/call ratio. +Inf reads as extreme bearish.
func ClassifyPutCall(ratio float64) string {
	return classify(putCallRules, ratio, PutCallExtremeBullish)
}

// ClassifySkew captions an IV skew expressed in percent points
func ClassifySkew(skew float64) string {
	return classify(skewRules, skew, SkewStrongBullish)
}

// ReliabilityMessage captions a rounded reliability score
func ReliabilityMessage(score float64) string {
	return classify(reliabilityRules, score, ReliabilityLow)
}

// TimeScore weights how usable a chain is by its distance to expiry
func TimeScore(days int) float64 {
	switch {
	case days >= 5 && days <= 45:
		return 1.0
	case days < 90:
		return 0.7
	default:
		return 0.3
	}
}

// VolatilityCaption describes the mean IV reading
func VolatilityCaption(highIV bool) string {
	if highIV {
		return VolatilityHigh
	}
	return VolatilityNormal
}

// Flags are the boolean inputs of strategy selection
type Flags struct {
	Bullish      bool
	Bearish      bool
	HighIV       bool
	PositiveSkew bool
	NegativeSkew bool
	Ratio        float64
}

type strategyRule struct {
	match func(Flags) bool
	label string
}

var strategyRules = []strategyRule{
	{func(f Flags) bool { return f.Bullish && !f.HighIV && f.NegativeSkew }, StrategyVeryStrongBuy},
	{func(f Flags) bool { return f.Bullish && f.HighIV && f.NegativeSkew }, StrategyCautiousBuyVol},
	{func(f Flags) bool { return f.Bullish && !f.HighIV }, StrategyBuy},
	{func(f Flags) bool { return f.Bullish }, StrategyCautiousBuy},

	{func(f Flags) bool { return f.Bearish && !f.HighIV && f.PositiveSkew }, StrategyVeryStrongSell},
	{func(f Flags) bool { return f.Bearish && f.HighIV && f.PositiveSkew }, StrategyCautiousSellVol},
	{func(f Flags) bool { return f.Bearish && !f.HighIV }, StrategySell},
	{func(f Flags) bool { return f.Bearish }, StrategyCautiousSell},

	{func(f Flags) bool { return f.Ratio > 1.2 && f.HighIV }, StrategyFearReinforcing},
	{func(f Flags) bool { return f.Ratio < 0.8 && !f.HighIV }, StrategyCautiousOptimism},
}

// SelectStrategy walks the strategy table: bullish rows, then bearish rows,
// then the ratio-only fallbacks.
func SelectStrategy(f Flags) string {
	for _, r := range strategyRules {
		if r.match(f) {
			return r.label
		}
	}
	return StrategyNeutral
}

// PutCallRatio divides put by call volume; zero call volume is unbounded
func PutCallRatio(putVolume, callVolume float64) float64 {
	if callVolume == 0 {
		return math.Inf(1)
	}
	return putVolume / callVolume
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
