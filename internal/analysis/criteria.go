package analysis

import (
	"math"

	"stock-signal-bot-go/internal/indicators"
)

// VolumeBreakoutPct is the minimum volume increase over the average, in percent.
const VolumeBreakoutPct = 40.0

const (
	ReasonBelowMA50  = "Price below 50-day MA"
	ReasonBelowMA200 = "Price below 200-day MA"

	FactAboveMA50      = "Price above 50-day MA"
	FactPositiveGrowth = "Positive earnings growth"
)

// Evidence holds the numbers behind each criterion. Undefined values are NaN.
type Evidence struct {
	Growth            float64   `json:"growth"`
	ThreeYearGrowth   float64   `json:"three_year_growth"`
	Price             float64   `json:"price"`
	MA50              float64   `json:"ma50"`
	MA200             float64   `json:"ma200"`
	PriceVsMA50Pct    float64   `json:"price_vs_ma50_pct"`
	PriceVsMA200Pct   float64   `json:"price_vs_ma200_pct"`
	VolumeIncreasePct float64   `json:"volume_increase_pct"`
	BenchmarkPrice    float64   `json:"benchmark_price"`
	BenchmarkMA50     float64   `json:"benchmark_ma50"`
	BenchmarkMA200    float64   `json:"benchmark_ma200"`
	BenchmarkUptrend  bool      `json:"benchmark_uptrend"`
	GoldenCross       bool      `json:"golden_cross"`
	RelativeStrength  float64   `json:"relative_strength"`
	Valuation         Valuation `json:"valuation"`
}

// CriteriaResult is the outcome of one analysis cycle for one symbol.
type CriteriaResult struct {
	Fundamental bool     `json:"fundamental"`
	Technical   bool     `json:"technical"`
	Volume      bool     `json:"volume"`
	Market      bool     `json:"market"`
	SellReasons []string `json:"sell_reasons,omitempty"`
	HoldFacts   []string `json:"hold_facts,omitempty"`
	Evidence    Evidence `json:"evidence"`
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Score is the number of true criteria, 0 to 4.
func (c CriteriaResult) Score() int {
	return b2i(c.Fundamental) + b2i(c.Technical) + b2i(c.Volume) + b2i(c.Market)
}

func pctAbove(price, ref float64) float64 {
	if !indicators.Defined(price) || !indicators.Defined(ref) || ref == 0 {
		return math.NaN()
	}
	return (price - ref) / ref * 100
}

func above(a, b float64) bool {
	return indicators.Defined(a) && indicators.Defined(b) && a > b
}

func below(a, b float64) bool {
	return indicators.Defined(a) && indicators.Defined(b) && a < b
}

// Evaluate runs the four criteria against the stock snapshot, the benchmark
// snapshot and the fundamentals. Undefined inputs make a criterion false.
func Evaluate(stock, benchmark indicators.Snapshot, f Fundamentals) CriteriaResult {
	ev := Evidence{
		Growth:            math.NaN(),
		ThreeYearGrowth:   math.NaN(),
		Price:             stock.Price,
		MA50:              stock.MA50,
		MA200:             stock.MA200,
		PriceVsMA50Pct:    pctAbove(stock.Price, stock.MA50),
		PriceVsMA200Pct:   pctAbove(stock.Price, stock.MA200),
		VolumeIncreasePct: pctAbove(stock.Volume, stock.VolumeAvg),
		BenchmarkPrice:    benchmark.Price,
		BenchmarkMA50:     benchmark.MA50,
		BenchmarkMA200:    benchmark.MA200,
		RelativeStrength:  stock.RelativeStrength,
		Valuation:         f.Valuation(),
	}

	var res CriteriaResult

	growth, hasGrowth := f.Growth()
	if hasGrowth {
		ev.Growth = growth
	}
	threeYear, hasThreeYear := f.ThreeYearGrowth()
	if hasThreeYear {
		ev.ThreeYearGrowth = threeYear
	}
	res.Fundamental = (hasGrowth && growth >= GrowthThreshold) || (hasThreeYear && threeYear >= GrowthThreshold)

	res.Technical = above(stock.Price, stock.MA50) && above(stock.Price, stock.MA200)

	res.Volume = indicators.Defined(ev.VolumeIncreasePct) && ev.VolumeIncreasePct >= VolumeBreakoutPct

	ev.BenchmarkUptrend = above(benchmark.Price, benchmark.MA50) &&
		above(benchmark.Price, benchmark.MA200) &&
		above(benchmark.MA50, benchmark.MA200)
	res.Market = ev.BenchmarkUptrend

	ev.GoldenCross = above(stock.MA50, stock.MA200) &&
		indicators.Defined(stock.PrevMA50) && indicators.Defined(stock.PrevMA200) &&
		stock.PrevMA50 <= stock.PrevMA200

	if below(stock.Price, stock.MA50) {
		res.SellReasons = append(res.SellReasons, ReasonBelowMA50)
	}
	if below(stock.Price, stock.MA200) {
		res.SellReasons = append(res.SellReasons, ReasonBelowMA200)
	}

	if above(stock.Price, stock.MA50) {
		res.HoldFacts = append(res.HoldFacts, FactAboveMA50)
	}
	if (hasGrowth && growth > 0) || (hasThreeYear && threeYear > 0) {
		res.HoldFacts = append(res.HoldFacts, FactPositiveGrowth)
	}

	res.Evidence = ev
	return res
}
