// Package journal archives closed positions. The archive is append-only;
// the live snapshot never shrinks a closed position's history, it moves
// here.
package journal

import (
	"time"
)

// ClosedRecord is the archived form of a closed position.
type ClosedRecord struct {
	PositionID string
	Symbol     string
	System     int
	Direction  string
	Units      int
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	RMultiple  float64
	Reason     string
}

// Summary aggregates the archive for reporting.
type Summary struct {
	Closed  int
	Winners int
	TotalPL float64
	AvgR    float64
	WinRate float64
}

// Journal is the archive sink the engine appends to after a save.
type Journal interface {
	AppendClosed(ClosedRecord) error
	Summarize() (Summary, error)
	Close() error
}
