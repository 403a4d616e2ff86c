package broker

import (
	"context"
	"time"
)

// Side is the order side a fill was executed on.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// FillRecord is a broker-reported execution. It is read-only to the engine.
// ExecutedAt is nil when the broker omits or mangles the execution-time
// field; fill matching must tolerate that.
type FillRecord struct {
	Symbol     string
	Side       Side
	Quantity   int
	Price      float64
	ExecutedAt *time.Time
	OrderRef   string
}

// FillSource is the logical fill-query contract. Implementations wrap a
// concrete broker API and must honor ctx deadlines; the engine calls with
// bounded timeouts.
type FillSource interface {
	GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]FillRecord, error)
}
