// Package fills reconciles broker-reported fill records against the
// entries the engine expected to be executed.
package fills

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/turtle/broker"
	"github.com/rustyeddy/turtle/position"
)

// Kind is the outcome of a match attempt.
type Kind int

const (
	// Matched means exactly one fill settles the entry.
	Matched Kind = iota
	// NoCandidate means no fill plausibly belongs to the entry.
	NoCandidate
	// Ambiguous means several fills remain equally plausible. The engine
	// surfaces this as a required-intervention condition and never resolves
	// it silently.
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case NoCandidate:
		return "no_candidate"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// Result is what Match settled on. Fill is meaningful when Kind is Matched;
// Candidates carries the contenders when Kind is Ambiguous.
type Result struct {
	Kind       Kind
	Fill       broker.FillRecord
	Confidence position.Confidence
	Candidates []broker.FillRecord
}

// Matcher matches one expected entry against candidate fills.
//
// Candidates are first narrowed by symbol and side. A single survivor
// matches outright. With several survivors, fills carrying execution
// timestamps are narrowed to the entry's intended window (± Tolerance);
// ties go to the most recent execution, and identical timestamps at the
// window boundary are accepted as a match rather than flagged. When fills
// arrive without a usable execution time, matching falls back to price
// proximity only, preserving compatibility with partial broker data.
type Matcher struct {
	// Tolerance widens the entry's intended time window on both ends,
	// typically to cover a trading session.
	Tolerance time.Duration
	// PriceTolerance is the maximum relative distance from the intended
	// price a fill may sit at and still match in price-only mode.
	PriceTolerance float64
}

// Default matcher parameters: a one-session window widening and 1% price
// proximity, matching the original system's same-session reconciliation.
func NewMatcher() Matcher {
	return Matcher{
		Tolerance:      8 * time.Hour,
		PriceTolerance: 0.01,
	}
}

// Match reconciles entry against fills reported for symbol. side is the
// order side the entry was expected to execute on.
func (m Matcher) Match(entry position.Entry, symbol string, side broker.Side, fills []broker.FillRecord) Result {
	var candidates []broker.FillRecord
	for _, f := range fills {
		if f.Symbol == symbol && f.Side == side {
			candidates = append(candidates, f)
		}
	}

	switch len(candidates) {
	case 0:
		return Result{Kind: NoCandidate, Confidence: position.ConfidenceUnmatched}
	case 1:
		return Result{Kind: Matched, Fill: candidates[0], Confidence: position.ConfidenceExact}
	}

	timed := candidates[:0:0]
	for _, f := range candidates {
		if f.ExecutedAt != nil && !f.ExecutedAt.IsZero() {
			timed = append(timed, f)
		}
	}
	if len(timed) < len(candidates) {
		// Partial broker data: at least one fill has no reliable execution
		// time, so the time filter cannot discriminate fairly. Match on
		// price proximity alone.
		return m.matchByPrice(entry, candidates)
	}

	start := entry.WindowStart.Add(-m.Tolerance)
	end := entry.WindowEnd.Add(m.Tolerance)
	inWindow := timed[:0:0]
	for _, f := range timed {
		if !f.ExecutedAt.Before(start) && !f.ExecutedAt.After(end) {
			inWindow = append(inWindow, f)
		}
	}

	switch len(inWindow) {
	case 0:
		// Candidates existed but none sits in the entry's window. That is
		// not a clean miss: something executed on this symbol and side that
		// the engine cannot account for.
		return Result{Kind: Ambiguous, Confidence: position.ConfidenceUnmatched, Candidates: candidates}
	case 1:
		return Result{Kind: Matched, Fill: inWindow[0], Confidence: position.ConfidenceTimeFiltered}
	}

	// Several remain equally plausible: most recent execution wins.
	// Identical timestamps are accepted as a match, not ambiguity.
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].ExecutedAt.After(*inWindow[j].ExecutedAt)
	})
	return Result{Kind: Matched, Fill: inWindow[0], Confidence: position.ConfidenceTimeFiltered}
}

func (m Matcher) matchByPrice(entry position.Entry, candidates []broker.FillRecord) Result {
	tol := m.PriceTolerance
	if tol <= 0 {
		tol = 0.01
	}
	maxDist := math.Abs(entry.IntendedPrice) * tol

	best := -1
	bestDist := math.Inf(1)
	tie := false
	for i, f := range candidates {
		d := math.Abs(f.Price - entry.IntendedPrice)
		if d > maxDist {
			continue
		}
		switch {
		case d < bestDist:
			best, bestDist, tie = i, d, false
		case d == bestDist:
			tie = true
		}
	}

	if best < 0 {
		return Result{Kind: NoCandidate, Confidence: position.ConfidenceUnmatched}
	}
	if tie {
		return Result{Kind: Ambiguous, Confidence: position.ConfidenceUnmatched, Candidates: candidates}
	}
	return Result{Kind: Matched, Fill: candidates[best], Confidence: position.ConfidencePriceOnly}
}

// EntrySide returns the order side that opens or adds to a position in the
// given direction; ExitSide returns the side that closes it.
func EntrySide(d position.Direction) broker.Side {
	if d == position.Long {
		return broker.Buy
	}
	return broker.Sell
}

func ExitSide(d position.Direction) broker.Side {
	if d == position.Long {
		return broker.Sell
	}
	return broker.Buy
}
