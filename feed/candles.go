package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rustyeddy/turtle/indicators"
	"github.com/rustyeddy/turtle/market"
)

// Candles serves market data from a JSON object of daily OHLC bars keyed by
// symbol. Price is the latest close; N is the Wilder ATR over Period bars.
// Pipelines that cannot precompute N drop candles instead of quotes.
type Candles struct {
	path   string
	period int
	maxAge time.Duration
}

func NewCandles(path string, period int, maxAge time.Duration) *Candles {
	if period <= 0 {
		period = 20
	}
	return &Candles{path: path, period: period, maxAge: maxAge}
}

func (c *Candles) series(symbol string) ([]indicators.Candle, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read candles %s: %w", c.path, market.ErrUnavailable)
	}
	all := make(map[string][]indicators.Candle)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse candles %s: %w", c.path, market.ErrUnavailable)
	}

	series, ok := all[symbol]
	if !ok || len(series) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, market.ErrUnavailable)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })

	if last := series[len(series)-1]; c.maxAge > 0 && time.Since(last.Time) > c.maxAge {
		return nil, fmt.Errorf("%s: candles stale since %s: %w", symbol, last.Time, market.ErrUnavailable)
	}
	return series, nil
}

func (c *Candles) GetLatestPrice(_ context.Context, symbol string) (float64, error) {
	series, err := c.series(symbol)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1].Close, nil
}

func (c *Candles) GetATR(_ context.Context, symbol string) (float64, error) {
	series, err := c.series(symbol)
	if err != nil {
		return 0, err
	}
	n, err := indicators.Wilder(series, c.period)
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", symbol, err, market.ErrUnavailable)
	}
	return n, nil
}
