package position

import (
	"fmt"
	"time"
)

// Direction is the side of a position's exposure.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Status is a position's lifecycle state.
//
// pending-entry → open → pyramiding ⇄ pyramiding → closing → closed.
// A pending-entry position whose opening fill never arrives inside its
// window is discarded rather than transitioned.
type Status string

const (
	StatusPendingEntry Status = "pending_entry"
	StatusOpen         Status = "open"
	StatusPyramiding   Status = "pyramiding"
	StatusClosing      Status = "closing"
	StatusClosed       Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingEntry, StatusOpen, StatusPyramiding, StatusClosing, StatusClosed:
		return true
	}
	return false
}

// Live reports whether the position still participates in risk budgets.
func (s Status) Live() bool {
	return s != StatusClosed
}

// Confidence grades how an entry's fill was matched.
type Confidence string

const (
	ConfidenceExact        Confidence = "exact"
	ConfidenceTimeFiltered Confidence = "time_filtered"
	ConfidencePriceOnly    Confidence = "price_only"
	ConfidenceUnmatched    Confidence = "unmatched"
)

// Entry is one unit's order/fill record within a position. Unit indices are
// contiguous starting at 0. FillTime stays zero until a broker fill has been
// matched to the entry.
type Entry struct {
	UnitIndex     int        `json:"unit_index"`
	IntendedPrice float64    `json:"intended_price"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	FillPrice     float64    `json:"fill_price,omitempty"`
	FillTime      time.Time  `json:"fill_time,omitzero"`
	Confidence    Confidence `json:"confidence"`
	NAtEntry      float64    `json:"n_at_entry"`
}

// Filled reports whether a broker fill has been matched to this entry.
func (e Entry) Filled() bool {
	return !e.FillTime.IsZero()
}

// Expired reports whether the entry's matching window has passed without a
// fill. An expired unfilled entry blocks further pyramiding until resolved.
func (e Entry) Expired(now time.Time) bool {
	return !e.Filled() && now.After(e.WindowEnd)
}

// Position is one directional exposure in one instrument under one system
// variant. The Store owns all Position records; Fill settlement and pyramid
// additions are the only writers.
type Position struct {
	ID        string    `json:"position_id"`
	Symbol    string    `json:"symbol"`
	System    int       `json:"system"` // 1 or 2
	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`
	Group     string    `json:"group"` // correlation group

	EntryPrice    float64 `json:"entry_price"` // first unit
	EntryN        float64 `json:"entry_n"`
	StopLoss      float64 `json:"stop_loss"`
	SharesPerUnit int     `json:"shares_per_unit"`

	Entries []Entry `json:"entries"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitTime   time.Time `json:"exit_time,omitzero"`
	ExitReason string    `json:"exit_reason,omitempty"`
	RealizedPL float64   `json:"realized_pl,omitempty"`
	RMultiple  float64   `json:"r_multiple,omitempty"`
}

// NewPending creates a pending-entry position for a confirmed breakout
// signal. The opening unit stays unfilled until fill matching settles it;
// if no fill arrives inside the window the position is discarded.
func NewPending(id, symbol string, system int, dir Direction, group string,
	intendedPrice, n float64, sharesPerUnit int, window time.Duration, now time.Time) *Position {

	stop := intendedPrice - 2*n
	if dir == Short {
		stop = intendedPrice + 2*n
	}
	return &Position{
		ID:            id,
		Symbol:        symbol,
		System:        system,
		Direction:     dir,
		Status:        StatusPendingEntry,
		Group:         group,
		EntryPrice:    intendedPrice,
		EntryN:        n,
		StopLoss:      stop,
		SharesPerUnit: sharesPerUnit,
		Entries: []Entry{{
			UnitIndex:     0,
			IntendedPrice: intendedPrice,
			WindowStart:   now,
			WindowEnd:     now.Add(window),
			Confidence:    ConfidenceUnmatched,
			NAtEntry:      n,
		}},
		OpenedAt:  now,
		UpdatedAt: now,
	}
}

// Units counts every entry, filled or pending. A pending entry has already
// been risk-approved and keeps its Unit reserved until it fills or expires.
func (p *Position) Units() int {
	return len(p.Entries)
}

// FilledUnits counts entries with a matched fill.
func (p *Position) FilledUnits() int {
	n := 0
	for _, e := range p.Entries {
		if e.Filled() {
			n++
		}
	}
	return n
}

// LastFilled returns the highest-index entry with a matched fill.
func (p *Position) LastFilled() (Entry, bool) {
	for i := len(p.Entries) - 1; i >= 0; i-- {
		if p.Entries[i].Filled() {
			return p.Entries[i], true
		}
	}
	return Entry{}, false
}

// Pending returns the unfilled entry, if any. Contiguity means there is at
// most one: units are proposed strictly after the last filled unit.
func (p *Position) Pending() (Entry, bool) {
	for _, e := range p.Entries {
		if !e.Filled() {
			return e, true
		}
	}
	return Entry{}, false
}

// TotalShares is the share count across filled units.
func (p *Position) TotalShares() int {
	return p.FilledUnits() * p.SharesPerUnit
}

// StopHit reports whether price has breached the protective stop.
func (p *Position) StopHit(price float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Direction == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// PnL is the profit for the filled units if the position exits at price.
func (p *Position) PnL(price float64) float64 {
	var pl float64
	for _, e := range p.Entries {
		if !e.Filled() {
			continue
		}
		if p.Direction == Long {
			pl += (price - e.FillPrice) * float64(p.SharesPerUnit)
		} else {
			pl += (e.FillPrice - price) * float64(p.SharesPerUnit)
		}
	}
	return pl
}

// RMultipleAt expresses the per-share exit profit as a multiple of the 2N
// risk taken at initial entry.
func (p *Position) RMultipleAt(price float64) float64 {
	risk := 2 * p.EntryN
	if risk <= 0 {
		return 0
	}
	var perShare float64
	if p.Direction == Long {
		perShare = price - p.EntryPrice
	} else {
		perShare = p.EntryPrice - price
	}
	return perShare / risk
}

// NExposure is the volatility-normalized exposure contributed by this
// position: unit count times N at initial entry.
func (p *Position) NExposure() float64 {
	return float64(p.Units()) * p.EntryN
}

// Close marks the position closed at price and freezes its unit count.
func (p *Position) Close(price float64, at time.Time, reason string) {
	p.Status = StatusClosed
	p.ExitPrice = price
	p.ExitTime = at
	p.ExitReason = reason
	p.RealizedPL = p.PnL(price)
	p.RMultiple = p.RMultipleAt(price)
	p.UpdatedAt = at
}

// Validate checks the record-level invariants the Store fails closed on.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position has no id")
	}
	if p.Symbol == "" {
		return fmt.Errorf("position %s: no symbol", p.ID)
	}
	if p.System != 1 && p.System != 2 {
		return fmt.Errorf("position %s: system %d not in {1,2}", p.ID, p.System)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("position %s: direction %q", p.ID, p.Direction)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: status %q", p.ID, p.Status)
	}
	if len(p.Entries) == 0 {
		return fmt.Errorf("position %s: no entries", p.ID)
	}
	if p.SharesPerUnit <= 0 {
		return fmt.Errorf("position %s: shares_per_unit %d", p.ID, p.SharesPerUnit)
	}
	for i, e := range p.Entries {
		if e.UnitIndex != i {
			return fmt.Errorf("position %s: entry %d has unit_index %d, want contiguous from 0",
				p.ID, i, e.UnitIndex)
		}
	}
	if p.Status == StatusClosed && p.ExitTime.IsZero() {
		return fmt.Errorf("position %s: closed without exit time", p.ID)
	}
	return nil
}
