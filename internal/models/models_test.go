package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatLenientDecoding(t *testing.T) {
	var row struct {
		Volume Float `json:"volume"`
		OI     Float `json:"openInterest"`
		IV     Float `json:"impliedVolatility"`
		Bid    Float `json:"bid"`
		Ask    Float `json:"ask"`
		Change Float `json:"change"`
	}

	payload := `{"volume": null, "openInterest": "1200", "impliedVolatility": "NaN", "bid": "abc", "ask": 2.5, "change": -0.75}`
	require.NoError(t, json.Unmarshal([]byte(payload), &row))

	assert.Equal(t, 0.0, row.Volume.Value())
	assert.Equal(t, 1200.0, row.OI.Value())
	assert.Equal(t, 0.0, row.IV.Value())
	assert.Equal(t, 0.0, row.Bid.Value())
	assert.Equal(t, 2.5, row.Ask.Value())
	assert.Equal(t, -0.75, row.Change.Value())
}

func TestFloatMissingFieldIsZero(t *testing.T) {
	var row struct {
		Volume Float `json:"volume"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{}`), &row))
	assert.Equal(t, 0.0, row.Volume.Value())
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 3.0, ToFloat(3))
	assert.Equal(t, 1.5, ToFloat(" 1.5 "))
	assert.Equal(t, 0.0, ToFloat(math.Inf(1)))
	assert.Equal(t, 0.0, ToFloat(nil))
	assert.Equal(t, 0.0, ToFloat([]int{1}))
}

func TestRatioJSON(t *testing.T) {
	out, err := json.Marshal(MarketSentiment{PutCallRatio: Ratio(math.Inf(1))})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"put_call_ratio":null`)

	out, err = json.Marshal(MarketSentiment{PutCallRatio: Ratio(0.25)})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"put_call_ratio":0.25`)

	var back MarketSentiment
	require.NoError(t, json.Unmarshal([]byte(`{"put_call_ratio":null}`), &back))
	assert.True(t, back.PutCallRatio.IsInf())
}

func TestBoxRangePresent(t *testing.T) {
	lo, hi := 90.0, 110.0
	assert.True(t, BoxRange{Min: &lo, Max: &hi}.Present())
	assert.False(t, BoxRange{Min: &lo}.Present())

	out, err := json.Marshal(BoxRange{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"min":null,"max":null}`, string(out))
}
