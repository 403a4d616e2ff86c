// Package market defines the data-provider boundary the engine consumes
// prices and volatility through. Indicator computation itself lives behind
// the provider.
package market

import (
	"context"
	"errors"
)

// ErrUnavailable means the provider could not produce a value for the
// symbol this run (rate limit, missing data, timeout). The engine treats it
// as "skip this symbol this run", never as fatal.
var ErrUnavailable = errors.New("market data unavailable")

// Provider supplies the latest price and the current N (Wilder ATR) per
// symbol. Providers must be assumed rate-limited; calls carry bounded
// timeouts via ctx.
type Provider interface {
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	GetATR(ctx context.Context, symbol string) (float64, error)
}
