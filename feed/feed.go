// Package feed adapts on-disk collaborator drops to the engine's market
// and broker boundaries. The external data pipeline writes a quotes file
// and a fills file; the engine only ever reads them. Stale or missing data
// surfaces as market.ErrUnavailable, which the engine treats as a
// per-symbol skip.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/turtle/broker"
	"github.com/rustyeddy/turtle/market"
)

// Quote is one symbol's latest price and N as delivered by the pipeline.
type Quote struct {
	Price float64   `json:"price"`
	ATR   float64   `json:"atr"`
	AsOf  time.Time `json:"as_of"`
}

// Quotes serves market data from a JSON object keyed by symbol. Entries
// older than MaxAge are treated as unavailable.
type Quotes struct {
	path   string
	maxAge time.Duration
}

func NewQuotes(path string, maxAge time.Duration) *Quotes {
	return &Quotes{path: path, maxAge: maxAge}
}

func (q *Quotes) load() (map[string]Quote, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		return nil, fmt.Errorf("read quotes %s: %w", q.path, market.ErrUnavailable)
	}
	out := make(map[string]Quote)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse quotes %s: %w", q.path, market.ErrUnavailable)
	}
	return out, nil
}

func (q *Quotes) lookup(symbol string) (Quote, error) {
	quotes, err := q.load()
	if err != nil {
		return Quote{}, err
	}
	quote, ok := quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", symbol, market.ErrUnavailable)
	}
	if q.maxAge > 0 && time.Since(quote.AsOf) > q.maxAge {
		return Quote{}, fmt.Errorf("%s: quote stale since %s: %w", symbol, quote.AsOf, market.ErrUnavailable)
	}
	return quote, nil
}

func (q *Quotes) GetLatestPrice(_ context.Context, symbol string) (float64, error) {
	quote, err := q.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return quote.Price, nil
}

func (q *Quotes) GetATR(_ context.Context, symbol string) (float64, error) {
	quote, err := q.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return quote.ATR, nil
}

// fillRecord is the drop-file form of a broker fill. ExecutedAt is a
// pointer: brokers with partial data omit it and matching falls back to
// price proximity.
type fillRecord struct {
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Quantity   int        `json:"quantity"`
	Price      float64    `json:"price"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	OrderRef   string     `json:"order_ref"`
}

// Fills serves broker fills from a JSON array drop file.
type Fills struct {
	path string
}

func NewFills(path string) *Fills {
	return &Fills{path: path}
}

func (f *Fills) GetRecentFills(_ context.Context, symbol string, since time.Time) ([]broker.FillRecord, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fills %s: %w", f.path, err)
	}
	var raw []fillRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fills %s: %w", f.path, err)
	}

	var out []broker.FillRecord
	for _, r := range raw {
		if r.Symbol != symbol {
			continue
		}
		if r.ExecutedAt != nil && r.ExecutedAt.Before(since) {
			continue
		}
		out = append(out, broker.FillRecord{
			Symbol:     r.Symbol,
			Side:       broker.Side(r.Side),
			Quantity:   r.Quantity,
			Price:      r.Price,
			ExecutedAt: r.ExecutedAt,
			OrderRef:   r.OrderRef,
		})
	}
	return out, nil
}
