package indicators

import (
	"math"

	"stock-signal-bot-go/internal/market"
)

const (
	trendShort = 50
	trendLong  = 200
)

// Windows are the configurable look-back sizes. The 50/200 trend averages are fixed.
type Windows struct {
	MAShort      int
	MALong       int
	RSIPeriod    int
	ATRPeriod    int
	VolumeWindow int
}

// DefaultWindows returns the windows used when nothing is configured.
func DefaultWindows() Windows {
	return Windows{MAShort: 10, MALong: 20, RSIPeriod: 14, ATRPeriod: 14, VolumeWindow: 50}
}

// Snapshot is a read-only view of the indicators at one bar index.
// Undefined values are NaN.
type Snapshot struct {
	Index            int     `json:"index"`
	Price            float64 `json:"price"`
	Volume           float64 `json:"volume"`
	MAShort          float64 `json:"ma_short"`
	MALong           float64 `json:"ma_long"`
	MA50             float64 `json:"ma50"`
	MA200            float64 `json:"ma200"`
	PrevMA50         float64 `json:"prev_ma50"`
	PrevMA200        float64 `json:"prev_ma200"`
	RSI              float64 `json:"rsi"`
	ATR              float64 `json:"atr"`
	VolumeAvg        float64 `json:"volume_avg"`
	VolumeRatio      float64 `json:"volume_ratio"`
	RelativeStrength float64 `json:"relative_strength"`
}

func valueAt(series []float64, i int) float64 {
	if i < 0 || i >= len(series) {
		return math.NaN()
	}
	return series[i]
}

// Compute builds the snapshot at index. A negative index means the last bar.
// benchmark may be empty, in which case RelativeStrength is NaN.
func Compute(bars, benchmark market.Series, w Windows, index int) Snapshot {
	if index < 0 || index >= len(bars) {
		index = len(bars) - 1
	}
	snap := Snapshot{Index: index, Price: math.NaN(), Volume: math.NaN()}
	if index < 0 {
		snap.MAShort, snap.MALong, snap.MA50, snap.MA200 = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		snap.PrevMA50, snap.PrevMA200 = math.NaN(), math.NaN()
		snap.RSI, snap.ATR, snap.VolumeAvg, snap.VolumeRatio = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		snap.RelativeStrength = math.NaN()
		return snap
	}

	// only the bars up to index are visible to the snapshot
	view := bars[:index+1]
	closes := view.Closes()
	volumes := view.Volumes()

	ma50 := SMA(closes, trendShort)
	ma200 := SMA(closes, trendLong)
	volAvg := SMA(volumes, w.VolumeWindow)

	snap.Price = closes[index]
	snap.Volume = volumes[index]
	snap.MAShort = valueAt(SMA(closes, w.MAShort), index)
	snap.MALong = valueAt(SMA(closes, w.MALong), index)
	snap.MA50 = valueAt(ma50, index)
	snap.MA200 = valueAt(ma200, index)
	snap.PrevMA50 = valueAt(ma50, index-1)
	snap.PrevMA200 = valueAt(ma200, index-1)
	snap.RSI = valueAt(RSI(closes, w.RSIPeriod), index)
	snap.ATR = valueAt(ATR(view, w.ATRPeriod), index)
	snap.VolumeAvg = valueAt(volAvg, index)
	snap.VolumeRatio = math.NaN()
	if ratio, err := VolumeRatio(volumes, w.VolumeWindow); err == nil {
		snap.VolumeRatio = ratio
	}

	snap.RelativeStrength = math.NaN()
	if len(benchmark) > 0 {
		bench := benchmark.Closes()
		// align the benchmark to the same point in time
		cut := len(bench)
		at := bars[index].Timestamp
		for cut > 0 && benchmark[cut-1].Timestamp.After(at) {
			cut--
		}
		if rs, err := RelativeStrength(closes, bench[:cut]); err == nil {
			snap.RelativeStrength = rs
		}
	}
	return snap
}
