package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"stock-signal-bot-go/internal/market"
)

// ErrInsufficientData is returned when a value is requested before enough bars exist to define it.
var ErrInsufficientData = errors.New("insufficient data")

// Defined reports whether v holds a computed value.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// At returns series[i] or ErrInsufficientData when the index is out of range or the value is undefined.
func At(series []float64, i int) (float64, error) {
	if i < 0 || i >= len(series) {
		return math.NaN(), fmt.Errorf("%w: index %d outside series of %d", ErrInsufficientData, i, len(series))
	}
	if !Defined(series[i]) {
		return math.NaN(), fmt.Errorf("%w: value at index %d is undefined", ErrInsufficientData, i)
	}
	return series[i], nil
}

// Latest returns the last value of a series or ErrInsufficientData.
func Latest(series []float64) (float64, error) {
	return At(series, len(series)-1)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA returns the simple moving average aligned to values. Entries before the
// first full window are NaN.
func SMA(values []float64, window int) []float64 {
	if window <= 0 || len(values) < window {
		return nanSeries(len(values))
	}
	out := talib.Sma(values, window)
	for i := 0; i < window-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// RSI returns the Relative Strength Index using Wilder smoothing
// (EWMA with alpha = 1/period seeded at the first price change).
// Values are defined from index period; an average loss of zero yields 100.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain := math.Max(change, 0)
		loss := math.Max(-change, 0)
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = (1-alpha)*avgGain + alpha*gain
			avgLoss = (1-alpha)*avgLoss + alpha*loss
		}
		if i < period {
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// Index 0 has no previous close and is NaN.
func TrueRange(bars market.Series) []float64 {
	if len(bars) == 0 {
		return nil
	}
	out := talib.TRange(bars.Highs(), bars.Lows(), bars.Closes())
	out[0] = math.NaN()
	return out
}

// ATR returns the rolling mean of the true range over period bars.
// It is defined from index period, so period+1 bars are needed for one value.
func ATR(bars market.Series, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) <= period {
		return out
	}
	tr := TrueRange(bars)
	avg := SMA(tr[1:], period)
	copy(out[1:], avg)
	return out
}

// VolumeRatio returns the latest volume divided by the rolling average over window bars,
// the average including the latest bar.
func VolumeRatio(volumes []float64, window int) (float64, error) {
	avg, err := Latest(SMA(volumes, window))
	if err != nil {
		return math.NaN(), err
	}
	if avg <= 0 {
		return math.NaN(), fmt.Errorf("%w: average volume is zero", ErrInsufficientData)
	}
	return volumes[len(volumes)-1] / avg, nil
}

type horizon struct {
	bars   int
	weight float64
}

// rsHorizons are the lookbacks blended into the relative strength
// rating, heaviest weight on the most recent.
var rsHorizons = []horizon{
	{bars: 21, weight: 0.4},
	{bars: 63, weight: 0.3},
	{bars: 126, weight: 0.2},
	{bars: 252, weight: 0.1},
}

func periodReturn(closes []float64, lookback int) (float64, bool) {
	if len(closes) <= lookback {
		return 0, false
	}
	base := closes[len(closes)-1-lookback]
	if base <= 0 {
		return 0, false
	}
	return closes[len(closes)-1]/base - 1, true
}

// RelativeStrength rates the stock closes against the benchmark closes on a 0-100 scale.
// 50 means in line with the benchmark. Horizons without enough history on
// either side are skipped and the remaining weights re-normalised.
func RelativeStrength(stock, benchmark []float64) (float64, error) {
	var blended, weights float64
	for _, h := range rsHorizons {
		rs, ok := periodReturn(stock, h.bars)
		if !ok {
			continue
		}
		rb, ok := periodReturn(benchmark, h.bars)
		if !ok {
			continue
		}
		blended += h.weight * (rs - rb)
		weights += h.weight
	}
	if weights == 0 {
		return math.NaN(), fmt.Errorf("%w: no relative strength horizon available", ErrInsufficientData)
	}
	outperformance := blended / weights * 100
	return math.Max(0, math.Min(100, 50+outperformance)), nil
}
