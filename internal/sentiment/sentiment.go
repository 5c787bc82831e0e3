package sentiment

import (
	"strings"
	"unicode"

	"stock-signal-bot-go/internal/signal"
)

const (
	buyThreshold  = 0.5
	sellThreshold = -0.5
)

var positiveWords = []string{
	"beat", "surge", "rise", "record", "profit", "gain", "upgrade", "outperform", "strong", "growth", "tops",
}

var negativeWords = []string{
	"miss", "fall", "drop", "loss", "cut", "downgrade", "lawsuit", "probe", "weak", "slump", "fraud",
}

// Result is the sentiment port payload. Signal is BUY, SELL or HOLD.
type Result struct {
	Signal    signal.Type `json:"signal"`
	Score     float64     `json:"score"`
	Headlines int         `json:"headlines"`
}

// Empty reports whether the result was derived from no headlines at all.
func (r Result) Empty() bool { return r.Headlines == 0 }

// Neutral is the result used when no sentiment is available.
func Neutral() Result {
	return Result{Signal: signal.Hold}
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func countMatches(toks, words []string) int {
	n := 0
	for _, w := range words {
		for _, t := range toks {
			// inflections such as "beats" or "surged" count for their stem
			if strings.HasPrefix(t, w) {
				n++
				break
			}
		}
	}
	return n
}

// ScoreHeadline returns the number of positive minus negative words in a headline.
func ScoreHeadline(headline string) int {
	toks := tokens(headline)
	return countMatches(toks, positiveWords) - countMatches(toks, negativeWords)
}

// Analyze averages the headline scores into a direction.
func Analyze(headlines []string) Result {
	if len(headlines) == 0 {
		return Neutral()
	}
	total := 0
	for _, h := range headlines {
		total += ScoreHeadline(h)
	}
	avg := float64(total) / float64(len(headlines))

	res := Result{Signal: signal.Hold, Score: avg, Headlines: len(headlines)}
	switch {
	case avg > buyThreshold:
		res.Signal = signal.Buy
	case avg < sellThreshold:
		res.Signal = signal.Sell
	}
	return res
}
