// Package indicators computes the volatility measure the position engine
// sizes and spaces units with. N is a Wilder-smoothed Average True Range.
package indicators

import (
	"fmt"
	"math"
	"time"
)

// Candle is one closed OHLC bar.
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// ATR is a streaming Average True Range with Wilder smoothing. Feed it
// closed candles oldest first; Value is meaningful once Ready.
type ATR struct {
	period      int
	atr         float64
	count       int
	warmupSum   float64
	prevCandle  Candle
	hasPrevious bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

// Warmup is period+1 candles: the first true range needs a previous close.
func (a *ATR) Warmup() int {
	return a.period + 1
}

func (a *ATR) Reset() {
	a.atr = 0
	a.count = 0
	a.warmupSum = 0
	a.hasPrevious = false
}

func (a *ATR) Update(c Candle) {
	if !a.hasPrevious {
		a.prevCandle = c
		a.hasPrevious = true
		return
	}

	tr := trueRange(c, a.prevCandle)
	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
	} else {
		a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
	}
	a.prevCandle = c
}

func (a *ATR) Ready() bool {
	return a.count >= a.period
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}

// Wilder computes the smoothed ATR over candles in one call. It errors when
// fewer than period+1 candles are supplied.
func Wilder(candles []Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	a := NewATR(period)
	if len(candles) < a.Warmup() {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", a.Warmup(), len(candles))
	}
	for _, c := range candles {
		a.Update(c)
	}
	return a.Value(), nil
}

func trueRange(current, previous Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}
