package signal

import (
	"fmt"

	"stock-signal-bot-go/internal/indicators"
)

const (
	rsiOverbought = 70
	rsiOversold   = 30
)

// DecideCrossover is the moving-average crossover rule: trend from the short/long
// averages, filtered by RSI and confirmed by above-average volume.
func DecideCrossover(snap indicators.Snapshot) Signal {
	for _, v := range []float64{snap.MAShort, snap.MALong, snap.RSI, snap.Volume, snap.VolumeAvg} {
		if !indicators.Defined(v) {
			return Signal{Type: Hold, Confidence: 30, Reason: reasonInsufficient}
		}
	}

	volumeUp := snap.Volume > snap.VolumeAvg
	switch {
	case snap.MAShort > snap.MALong && snap.RSI < rsiOverbought && volumeUp:
		return Signal{Type: Buy, Confidence: 75, Reason: fmt.Sprintf(
			"short MA %.2f above long MA %.2f, RSI %.1f, volume above average", snap.MAShort, snap.MALong, snap.RSI)}
	case snap.MAShort < snap.MALong && snap.RSI > rsiOversold && volumeUp:
		return Signal{Type: Sell, Confidence: 75, Reason: fmt.Sprintf(
			"short MA %.2f below long MA %.2f, RSI %.1f, volume above average", snap.MAShort, snap.MALong, snap.RSI)}
	}
	return Signal{Type: Hold, Confidence: 30, Reason: "No crossover confirmation"}
}
