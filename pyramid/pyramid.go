// Package pyramid decides when a winning position earns an additional
// unit, and keeps the protective stop tied to the latest entry.
package pyramid

import (
	"fmt"
	"time"

	"github.com/rustyeddy/turtle/position"
)

// Manager proposes additional units at fixed N-multiple price intervals.
// Proposals are candidates only; they must pass risk validation before
// being committed to the position.
type Manager struct {
	MaxUnits  int           // unit cap per position
	IntervalN float64       // favorable move required, in N
	StopN     float64       // stop distance from the last entry, in N
	Window    time.Duration // matching window granted to a proposed entry
}

func NewManager() Manager {
	return Manager{
		MaxUnits:  4,
		IntervalN: 0.5,
		StopN:     2.0,
		Window:    24 * time.Hour,
	}
}

// Decision is the outcome of evaluating one position at the current price.
type Decision struct {
	Propose   bool
	Reason    string
	Candidate position.Entry
	// NewStop is the stop the position will carry once the candidate is
	// committed. It only ever tightens in the protective direction.
	NewStop float64
}

// Evaluate proposes a new unit when price has moved favorably by at least
// IntervalN × n from the last filled unit and the position is under the
// unit cap. A pending entry blocks further proposals until it is resolved.
func (m Manager) Evaluate(p *position.Position, price, n float64, now time.Time) Decision {
	if p.Status != position.StatusOpen && p.Status != position.StatusPyramiding {
		return Decision{Reason: fmt.Sprintf("status %s does not pyramid", p.Status)}
	}
	if _, ok := p.Pending(); ok {
		return Decision{Reason: "pending entry unresolved"}
	}
	if p.Units() >= m.MaxUnits {
		return Decision{Reason: fmt.Sprintf("at unit cap %d/%d", p.Units(), m.MaxUnits)}
	}

	last, ok := p.LastFilled()
	if !ok {
		return Decision{Reason: "no filled unit to pyramid from"}
	}

	interval := m.IntervalN * n
	if p.Direction == position.Long {
		if price < last.FillPrice+interval {
			return Decision{Reason: fmt.Sprintf("price %.4f below pyramid level %.4f", price, last.FillPrice+interval)}
		}
	} else {
		if price > last.FillPrice-interval {
			return Decision{Reason: fmt.Sprintf("price %.4f above pyramid level %.4f", price, last.FillPrice-interval)}
		}
	}

	candidate := position.Entry{
		UnitIndex:     p.Units(),
		IntendedPrice: price,
		WindowStart:   now,
		WindowEnd:     now.Add(m.Window),
		Confidence:    position.ConfidenceUnmatched,
		NAtEntry:      n,
	}
	return Decision{
		Propose:   true,
		Reason:    fmt.Sprintf("favorable move %.2fN from last entry", m.IntervalN),
		Candidate: candidate,
		NewStop:   m.TightenedStop(p, price, n),
	}
}

// TightenedStop computes the stop implied by an entry at entryPrice and
// clamps it so the stop only ever moves in the protective direction.
func (m Manager) TightenedStop(p *position.Position, entryPrice, n float64) float64 {
	dist := m.StopN * n
	if p.Direction == position.Long {
		stop := entryPrice - dist
		if stop < p.StopLoss {
			return p.StopLoss
		}
		return stop
	}
	stop := entryPrice + dist
	if p.StopLoss != 0 && stop > p.StopLoss {
		return p.StopLoss
	}
	return stop
}

// Commit appends a risk-approved candidate to the position and tightens
// the stop. The entry is still pending; its fill settles later.
func (m Manager) Commit(p *position.Position, candidate position.Entry, now time.Time) {
	p.Entries = append(p.Entries, candidate)
	p.StopLoss = m.TightenedStop(p, candidate.IntendedPrice, candidate.NAtEntry)
	if p.Status == position.StatusOpen {
		p.Status = position.StatusPyramiding
	}
	p.UpdatedAt = now
}

// Settle records the matched fill on the pending entry at index idx and
// recomputes the stop from the actual fill price, tighten-only.
func (m Manager) Settle(p *position.Position, idx int, fillPrice float64, fillTime time.Time, conf position.Confidence) error {
	if idx < 0 || idx >= len(p.Entries) {
		return fmt.Errorf("settle: no entry %d on position %s", idx, p.ID)
	}
	e := &p.Entries[idx]
	if e.Filled() {
		return fmt.Errorf("settle: entry %d on position %s already filled", idx, p.ID)
	}
	e.FillPrice = fillPrice
	e.FillTime = fillTime
	e.Confidence = conf
	if idx > 0 {
		p.StopLoss = m.TightenedStop(p, fillPrice, e.NAtEntry)
	}
	p.UpdatedAt = fillTime
	return nil
}

// Discard removes an expired pending entry, unblocking future pyramiding.
// Unit indices stay contiguous because only the final entry can be pending.
func (m Manager) Discard(p *position.Position, idx int, now time.Time) error {
	if idx != len(p.Entries)-1 {
		return fmt.Errorf("discard: entry %d on position %s is not the last", idx, p.ID)
	}
	if p.Entries[idx].Filled() {
		return fmt.Errorf("discard: entry %d on position %s is filled", idx, p.ID)
	}
	p.Entries = p.Entries[:idx]
	p.UpdatedAt = now
	return nil
}
