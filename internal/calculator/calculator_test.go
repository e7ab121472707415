package calculator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CandleDesk/internal/model"
)

func weeks(closes ...float64) []model.WeeklyBar {
	friday := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	out := make([]model.WeeklyBar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = model.WeeklyBar{
			WeekEndDate: friday.AddDate(0, 0, 7*i),
			Quote: model.Quote{
				Symbol: "000001",
				Open:   model.Price(d),
				High:   model.Price(d.Add(decimal.NewFromInt(1))),
				Low:    model.Price(d.Sub(decimal.NewFromInt(1))),
				Close:  model.Price(d),
			},
		}
	}
	return out
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestSMA(t *testing.T) {
	vals := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(4)}

	got, err := SMA(vals, 2)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("3.5")))

	_, err = SMA(vals, 5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = SMA(vals, 0)
	assert.Error(t, err)
}

func TestMA20w(t *testing.T) {
	w := weeks(series(25, func(i int) float64 { return float64(i + 1) })...)
	got, err := MA20w(w)
	require.NoError(t, err)
	// mean of 6..25
	assert.True(t, got.Equal(decimal.RequireFromString("15.5")), got.String())

	_, err = MA50w(w)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRange(t *testing.T) {
	w := weeks(10, 30, 20, 15)
	w[0].High = decimal.NullDecimal{}

	high, low, err := Range(w, 52)
	require.NoError(t, err)
	assert.True(t, high.Equal(decimal.NewFromInt(31)))
	assert.True(t, low.Equal(decimal.NewFromInt(9)))

	high, low, err = Range(w, 2)
	require.NoError(t, err)
	assert.True(t, high.Equal(decimal.NewFromInt(21)))
	assert.True(t, low.Equal(decimal.NewFromInt(14)))

	_, _, err = Range(nil, 52)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPosition(t *testing.T) {
	tests := []struct {
		current, high, low float64
		want               float64
		wantErr            bool
	}{
		{15, 20, 10, 0.5, false},
		{20, 20, 10, 1, false},
		{25, 20, 10, 1, false},
		{5, 20, 10, 0, false},
		{7, 7, 7, 0.5, false},
		{7, 5, 10, 0, true},
	}
	for _, tt := range tests {
		got, err := Position(decimal.NewFromFloat(tt.current), decimal.NewFromFloat(tt.high), decimal.NewFromFloat(tt.low))
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9)
	}
}

func TestRSI(t *testing.T) {
	up := weeks(series(20, func(i int) float64 { return float64(10 + i) })...)
	got, err := RSI(up, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	down := weeks(series(20, func(i int) float64 { return float64(50 - i) })...)
	got, err = RSI(down, 14)
	require.NoError(t, err)
	assert.InDelta(t, 0, got, 1e-9)

	zigzag := weeks(series(30, func(i int) float64 { return 10 + math.Mod(float64(i), 2) })...)
	got, err = RSI(zigzag, 14)
	require.NoError(t, err)
	assert.InDelta(t, 50, got, 5)

	_, err = RSI(up[:10], 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestSummarize(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Weeks)
	assert.False(t, s.HasMA20w)
	assert.False(t, s.HasRange)

	w := weeks(series(30, func(i int) float64 { return float64(i + 1) })...)
	s = Summarize(w)
	assert.Equal(t, 30, s.Weeks)
	assert.True(t, s.LastClose.Equal(decimal.NewFromInt(30)))
	assert.True(t, s.HasMA20w)
	assert.False(t, s.HasMA50w)
	assert.True(t, s.HasRange)
	assert.True(t, s.High52w.Equal(decimal.NewFromInt(31)))
	assert.True(t, s.Low52w.Equal(decimal.NewFromInt(0)))
	assert.InDelta(t, 30.0/31.0, s.Position52w, 1e-9)
	assert.True(t, s.HasRSI)
}
