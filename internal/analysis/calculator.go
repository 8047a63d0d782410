// Package analysis turns the two sides of an option chain into the
// sentiment, reliability and box-range readings of a report.
package analysis

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/jwaldner/chainsense/internal/models"
	"github.com/jwaldner/chainsense/internal/utils"
)

var (
	// ErrNoData means a side of the chain has no rows
	ErrNoData = errors.New("no option data")
	// ErrInsufficientData means a side of the chain carries no traded volume
	ErrInsufficientData = errors.New("insufficient data: no traded volume on one side of the chain")
)

// NoExpiryLabel is reported when no contract symbol carries a date
const NoExpiryLabel = "N/A"

// Input is everything one report is computed from
type Input struct {
	Ticker   string
	Expiry   string
	Calls    []models.Contract
	Puts     []models.Contract
	Price    float64
	HasPrice bool // false when no market price could be resolved
}

// Calculator computes analysis results. It holds no state besides its clock.
type Calculator struct {
	Now func() time.Time
}

// NewCalculator returns a calculator on the wall clock
func NewCalculator() *Calculator {
	return &Calculator{Now: time.Now}
}

// side aggregates one contract set
type side struct {
	rows      []models.Contract
	volume    float64
	oi        float64
	meanIV    float64
	maxVolume float64
}

func newSide(rows []models.Contract) side {
	s := side{rows: normalize(rows)}
	var ivSum float64
	for _, c := range s.rows {
		s.volume += c.Volume
		s.oi += c.OpenInterest
		ivSum += c.ImpliedVolatility
		if c.Volume > s.maxVolume {
			s.maxVolume = c.Volume
		}
	}
	if len(s.rows) > 0 {
		s.meanIV = ivSum / float64(len(s.rows))
	}
	return s
}

func (s side) meanVolume() float64 {
	return s.volume / float64(len(s.rows))
}

// normalize copies the rows with every non-finite number replaced by 0
func normalize(rows []models.Contract) []models.Contract {
	out := make([]models.Contract, len(rows))
	for i, c := range rows {
		out[i] = models.Contract{
			ContractSymbol:    c.ContractSymbol,
			Strike:            models.Finite(c.Strike),
			LastPrice:         models.Finite(c.LastPrice),
			Bid:               models.Finite(c.Bid),
			Ask:               models.Finite(c.Ask),
			Change:            models.Finite(c.Change),
			PercentChange:     models.Finite(c.PercentChange),
			Volume:            models.Finite(c.Volume),
			OpenInterest:      models.Finite(c.OpenInterest),
			ImpliedVolatility: models.Finite(c.ImpliedVolatility),
		}
	}
	return out
}

// Analyze runs the full pipeline. It returns ErrNoData for an empty side and
// ErrInsufficientData when either side has no volume at all.
func (calc *Calculator) Analyze(in Input) (*models.AnalysisResult, error) {
	if len(in.Calls) == 0 || len(in.Puts) == 0 {
		return nil, ErrNoData
	}

	calls := newSide(in.Calls)
	puts := newSide(in.Puts)
	if calls.maxVolume <= 0 || puts.maxVolume <= 0 {
		return nil, ErrInsufficientData
	}

	now := time.Now
	if calc.Now != nil {
		now = calc.Now
	}

	price := in.Price
	source := models.PriceSourceMarket
	if !in.HasPrice {
		price = MedianStrike(calls.rows)
		source = models.PriceSourceMedianStrike
	}

	expiry := ExpiryLabel(calls.rows[0].ContractSymbol)

	ratio := PutCallRatio(puts.volume, calls.volume)

	// at-the-money rows
	var callATMIV, putATMIV, callATMStrike, putATMStrike float64
	if i := nearestStrike(calls.rows, price); i >= 0 {
		callATMIV = calls.rows[i].ImpliedVolatility
		callATMStrike = calls.rows[i].Strike
	}
	if i := nearestStrike(puts.rows, price); i >= 0 {
		putATMIV = puts.rows[i].ImpliedVolatility
		putATMStrike = puts.rows[i].Strike
	}
	ivSkew := (putATMIV - callATMIV) * 100
	meanIV := (calls.meanIV + puts.meanIV) / 2 * 100
	highIV := meanIV > highMeanIV || math.Abs(callATMIV-putATMIV)*100 > highATMSpread

	days := defaultDaysToExpiry
	if d, ok := utils.DaysUntil(expiry, now()); ok {
		days = d
	}

	reliability := scoreReliability(calls, puts, price, days)

	flags := Flags{
		Bearish:      puts.meanVolume() > calls.meanVolume(),
		HighIV:       highIV,
		PositiveSkew: ivSkew > skewSignificant,
		NegativeSkew: ivSkew < -skewSignificant,
		Ratio:        ratio,
	}
	flags.Bullish = calls.meanVolume() > puts.meanVolume() &&
		ratio < 1 &&
		calls.rows[maxAbsChange(calls.rows)].Change > puts.rows[maxAbsChange(puts.rows)].Change

	topCall := calls.rows[maxVolume(calls.rows)]
	topPut := puts.rows[maxVolume(puts.rows)]

	result := &models.AnalysisResult{
		Ticker:       in.Ticker,
		ExpiryDate:   expiry,
		CurrentPrice: price,
		PriceSource:  source,
		Strategy:     SelectStrategy(flags),
		Sentiment: models.MarketSentiment{
			PutCallRatio:     models.Ratio(ratio),
			PutCallSentiment: ClassifyPutCall(ratio),
			IVSkew:           ivSkew,
			IVSkewSentiment:  ClassifySkew(ivSkew),
			MeanIV:           meanIV,
			MeanIVCaption:    VolatilityCaption(highIV),
		},
		Reliability: reliability,
		TopOptions: models.TopOptions{
			Call: summarize(topCall),
			Put:  summarize(topPut),
		},
		BoxRange: BoxRange(calls.rows, puts.rows, price),
		Chart:    chartData(calls.rows, puts.rows),
		Signals: models.Signals{
			Bullish:       flags.Bullish,
			Bearish:       flags.Bearish,
			HighIV:        highIV,
			PositiveSkew:  flags.PositiveSkew,
			NegativeSkew:  flags.NegativeSkew,
			DaysToExpiry:  days,
			CallATMStrike: callATMStrike,
			PutATMStrike:  putATMStrike,
			CallATMIV:     callATMIV,
			PutATMIV:      putATMIV,
			CallVolume:    calls.volume,
			PutVolume:     puts.volume,
			CallOI:        calls.oi,
			PutOI:         puts.oi,
		},
	}
	return result, nil
}

func scoreReliability(calls, puts side, price float64, days int) models.Reliability {
	totalVolume := calls.volume + puts.volume
	atmVolume := volumeWithin(calls.rows, price, atmBand) + volumeWithin(puts.rows, price, atmBand)
	concentration := atmVolume / (totalVolume + 1e-6)

	r := models.Reliability{
		VolumeScore: clamp01(totalVolume / volumeNorm),
		OIScore:     clamp01((calls.oi + puts.oi) / oiNorm),
		ATMScore:    clamp01(math.Min(2*concentration, 1)),
		TimeScore:   TimeScore(days),
	}
	r.Score = clamp01(round2(0.3*r.VolumeScore + 0.3*r.OIScore + 0.2*r.ATMScore + 0.2*r.TimeScore))
	r.Message = ReliabilityMessage(r.Score)
	return r
}

// ExpiryLabel reads YYMMDD out of a contract symbol, or returns "N/A"
func ExpiryLabel(symbol string) string {
	if iso, ok := utils.ExpiryFromSymbol(symbol); ok {
		return iso
	}
	return NoExpiryLabel
}

// MedianStrike is the median of the strikes; an even count averages the middle pair
func MedianStrike(rows []models.Contract) float64 {
	if len(rows) == 0 {
		return 0
	}
	strikes := make([]float64, len(rows))
	for i, c := range rows {
		strikes[i] = c.Strike
	}
	sort.Float64s(strikes)
	mid := len(strikes) / 2
	if len(strikes)%2 == 1 {
		return strikes[mid]
	}
	return (strikes[mid-1] + strikes[mid]) / 2
}

// BoxRange pairs the heaviest put strike (support) with the heaviest call
// strike (resistance) inside ±30% of price. Both ends are set or neither.
func BoxRange(calls, puts []models.Contract, price float64) models.BoxRange {
	low, okLow := weightedStrike(puts, price, boxBand)
	high, okHigh := weightedStrike(calls, price, boxBand)
	if !okLow || !okHigh {
		return models.BoxRange{}
	}
	return models.BoxRange{Min: &low, Max: &high}
}

// weightedStrike picks the strike with the highest 0.3*OI + 0.7*volume
// among rows within band of price. ok is false for an empty band or when
// every score is zero.
func weightedStrike(rows []models.Contract, price, band float64) (float64, bool) {
	best := -1
	bestScore := 0.0
	for i, c := range rows {
		if !within(c.Strike, price, band) {
			continue
		}
		score := 0.3*c.OpenInterest + 0.7*c.Volume
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore <= 0 {
		return 0, false
	}
	return rows[best].Strike, true
}

func within(strike, price, band float64) bool {
	return strike >= price*(1-band) && strike <= price*(1+band)
}

func volumeWithin(rows []models.Contract, price, band float64) float64 {
	var v float64
	for _, c := range rows {
		if within(c.Strike, price, band) {
			v += c.Volume
		}
	}
	return v
}

// nearestStrike returns the first row closest to price, -1 when empty
func nearestStrike(rows []models.Contract, price float64) int {
	best := -1
	bestDist := 0.0
	for i, c := range rows {
		d := math.Abs(c.Strike - price)
		if best < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func maxVolume(rows []models.Contract) int {
	best := 0
	for i, c := range rows {
		if c.Volume > rows[best].Volume {
			best = i
		}
	}
	return best
}

func maxAbsChange(rows []models.Contract) int {
	best := 0
	for i, c := range rows {
		if math.Abs(c.Change) > math.Abs(rows[best].Change) {
			best = i
		}
	}
	return best
}

func summarize(c models.Contract) models.ContractSummary {
	return models.ContractSummary{
		Strike:       c.Strike,
		Volume:       c.Volume,
		OpenInterest: c.OpenInterest,
	}
}

// chartData keeps each side in its own row order
func chartData(calls, puts []models.Contract) models.ChartData {
	cd := models.ChartData{
		Strikes:    make([]float64, len(calls)),
		CallOI:     make([]float64, len(calls)),
		CallVolume: make([]float64, len(calls)),
		PutStrikes: make([]float64, len(puts)),
		PutOI:      make([]float64, len(puts)),
		PutVolume:  make([]float64, len(puts)),
	}
	for i, c := range calls {
		cd.Strikes[i] = c.Strike
		cd.CallOI[i] = c.OpenInterest
		cd.CallVolume[i] = c.Volume
	}
	for i, p := range puts {
		cd.PutStrikes[i] = p.Strike
		cd.PutOI[i] = p.OpenInterest
		cd.PutVolume[i] = p.Volume
	}
	return cd
}
