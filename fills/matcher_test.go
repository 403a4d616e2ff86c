package fills

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/turtle/broker"
	"github.com/rustyeddy/turtle/position"
)

var windowStart = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func testEntry() position.Entry {
	return position.Entry{
		UnitIndex:     1,
		IntendedPrice: 100,
		WindowStart:   windowStart,
		WindowEnd:     windowStart.Add(time.Hour),
	}
}

func fillAt(price float64, at *time.Time) broker.FillRecord {
	return broker.FillRecord{
		Symbol:     "SPY",
		Side:       broker.Buy,
		Quantity:   10,
		Price:      price,
		ExecutedAt: at,
		OrderRef:   "ord-1",
	}
}

func ts(offset time.Duration) *time.Time {
	t := windowStart.Add(offset)
	return &t
}

func TestMatchNoCandidate(t *testing.T) {
	t.Parallel()
	m := NewMatcher()

	res := m.Match(testEntry(), "SPY", broker.Buy, nil)
	assert.Equal(t, NoCandidate, res.Kind)

	// Wrong symbol and wrong side both filter out.
	other := fillAt(100, ts(time.Minute))
	other.Symbol = "QQQ"
	sell := fillAt(100, ts(time.Minute))
	sell.Side = broker.Sell
	res = m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{other, sell})
	assert.Equal(t, NoCandidate, res.Kind)
}

func TestMatchSingleCandidate(t *testing.T) {
	t.Parallel()
	m := NewMatcher()

	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{fillAt(100.2, ts(time.Minute))})
	require.Equal(t, Matched, res.Kind)
	assert.Equal(t, position.ConfidenceExact, res.Confidence)
	assert.InDelta(t, 100.2, res.Fill.Price, 1e-9)
}

func TestMatchTimeFilterNarrowsToOne(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: 0, PriceTolerance: 0.01}

	inWindow := fillAt(100.1, ts(10*time.Minute))
	outside := fillAt(100.3, ts(26*time.Hour))
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{outside, inWindow})

	require.Equal(t, Matched, res.Kind)
	assert.Equal(t, position.ConfidenceTimeFiltered, res.Confidence)
	assert.InDelta(t, 100.1, res.Fill.Price, 1e-9)
}

func TestMatchTieBreakMostRecent(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: 0, PriceTolerance: 0.01}

	early := fillAt(100.1, ts(5*time.Minute))
	late := fillAt(100.4, ts(40*time.Minute))
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{early, late})

	require.Equal(t, Matched, res.Kind)
	assert.InDelta(t, 100.4, res.Fill.Price, 1e-9)
}

func TestMatchIdenticalBoundaryTimestampsAccepted(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: 0, PriceTolerance: 0.01}

	// Two fills exactly at the window boundary with identical timestamps:
	// accepted as a match, never Ambiguous.
	boundary := ts(time.Hour)
	a := fillAt(100.1, boundary)
	b := fillAt(100.2, boundary)
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{a, b})

	assert.Equal(t, Matched, res.Kind)
}

func TestMatchCandidatesOutsideWindowAreAmbiguous(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: 0, PriceTolerance: 0.01}

	a := fillAt(100.1, ts(-30*time.Hour))
	b := fillAt(100.2, ts(30*time.Hour))
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{a, b})

	require.Equal(t, Ambiguous, res.Kind)
	assert.Len(t, res.Candidates, 2)
}

func TestMatchPriceOnlyFallback(t *testing.T) {
	t.Parallel()
	m := NewMatcher()

	// One candidate has no execution time: the time filter cannot be
	// applied fairly, so price proximity decides. Never a hard error.
	near := fillAt(100.05, nil)
	far := fillAt(100.9, ts(10*time.Minute))
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{near, far})

	require.Equal(t, Matched, res.Kind)
	assert.Equal(t, position.ConfidencePriceOnly, res.Confidence)
	assert.InDelta(t, 100.05, res.Fill.Price, 1e-9)
}

func TestMatchPriceOnlyNoneWithinTolerance(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: time.Hour, PriceTolerance: 0.001}

	a := fillAt(103, nil)
	b := fillAt(97, nil)
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{a, b})
	assert.Equal(t, NoCandidate, res.Kind)
}

func TestMatchPriceOnlyEquidistantIsAmbiguous(t *testing.T) {
	t.Parallel()
	m := Matcher{Tolerance: time.Hour, PriceTolerance: 0.01}

	a := fillAt(100.5, nil)
	b := fillAt(99.5, nil)
	res := m.Match(testEntry(), "SPY", broker.Buy, []broker.FillRecord{a, b})

	require.Equal(t, Ambiguous, res.Kind)
	assert.Len(t, res.Candidates, 2)
}

func TestEntryAndExitSides(t *testing.T) {
	t.Parallel()
	assert.Equal(t, broker.Buy, EntrySide(position.Long))
	assert.Equal(t, broker.Sell, EntrySide(position.Short))
	assert.Equal(t, broker.Sell, ExitSide(position.Long))
	assert.Equal(t, broker.Buy, ExitSide(position.Short))
}
