// Package risk enforces the portfolio's nested Unit ceilings. It is the
// single authority consulted before any unit-adding mutation; it validates
// and never mutates position state.
package risk

import (
	"fmt"

	"github.com/rustyeddy/turtle/position"
)

// Limits are the four nested ceilings, all expressed in Units.
type Limits struct {
	PerSymbol    int     `json:"per_symbol" yaml:"per_symbol"`
	PerGroup     int     `json:"per_group" yaml:"per_group"`
	PerDirection int     `json:"per_direction" yaml:"per_direction"`
	MaxNExposure float64 `json:"max_n_exposure" yaml:"max_n_exposure"`
}

// DefaultLimits are the classic Turtle ceilings: 4 per market, 6 per
// correlated group, 12 per direction, 10 total N exposure.
func DefaultLimits() Limits {
	return Limits{
		PerSymbol:    4,
		PerGroup:     6,
		PerDirection: 12,
		MaxNExposure: 10,
	}
}

func (l Limits) Validate() error {
	if l.PerSymbol <= 0 || l.PerGroup <= 0 || l.PerDirection <= 0 {
		return fmt.Errorf("unit ceilings must be positive")
	}
	if l.PerSymbol > l.PerGroup || l.PerGroup > l.PerDirection {
		return fmt.Errorf("ceilings must nest: per_symbol <= per_group <= per_direction")
	}
	if l.MaxNExposure <= 0 {
		return fmt.Errorf("max_n_exposure must be positive")
	}
	return nil
}

// ViolationKind names the ceiling a candidate would breach.
type ViolationKind string

const (
	ViolationPerSymbol    ViolationKind = "per_symbol"
	ViolationPerGroup     ViolationKind = "per_group"
	ViolationPerDirection ViolationKind = "per_direction"
	ViolationNExposure    ViolationKind = "n_exposure"
)

// LimitViolation reports the first ceiling a prospective unit would breach,
// with the value the portfolio would reach and the configured limit.
type LimitViolation struct {
	Kind    ViolationKind
	Scope   string // symbol, group name, or direction
	Current float64
	Limit   float64
}

func (v *LimitViolation) Error() string {
	return fmt.Sprintf("risk limit %s (%s): %.1f exceeds %.1f", v.Kind, v.Scope, v.Current, v.Limit)
}

// Candidate is a prospective unit: either the opening unit of a new
// position or a pyramid addition to an existing one.
type Candidate struct {
	Symbol    string
	Group     string
	Direction position.Direction
	Units     int
	N         float64
}

// Exposure is the portfolio's Unit usage, derived from a snapshot without
// mutating it. Pending entries count: their Units are reserved from the
// moment of approval.
type Exposure struct {
	BySymbol map[string]int
	ByGroup  map[string]int
	Long     int
	Short    int
	NTotal   float64
}

// Derive tallies exposure across every live position in the snapshot.
func Derive(snap *position.Snapshot, groupOf func(symbol string) string) Exposure {
	ex := Exposure{
		BySymbol: make(map[string]int),
		ByGroup:  make(map[string]int),
	}
	for _, p := range snap.Positions {
		if !p.Status.Live() {
			continue
		}
		u := p.Units()
		ex.BySymbol[p.Symbol] += u
		ex.ByGroup[groupOf(p.Symbol)] += u
		if p.Direction == position.Long {
			ex.Long += u
		} else {
			ex.Short += u
		}
		ex.NTotal += p.NExposure()
	}
	return ex
}

// Manager validates prospective units against the configured limits.
// Correlation group membership is static configuration: a symbol missing
// from Groups falls into DefaultGroup.
type Manager struct {
	Limits       Limits
	Groups       map[string]string // symbol -> group
	DefaultGroup string
}

func NewManager(limits Limits, groups map[string]string) *Manager {
	return &Manager{Limits: limits, Groups: groups, DefaultGroup: "ungrouped"}
}

// GroupOf resolves the correlation group for a symbol.
func (m *Manager) GroupOf(symbol string) string {
	if g, ok := m.Groups[symbol]; ok {
		return g
	}
	return m.DefaultGroup
}

// Validate checks the four ceilings in order against the state as it would
// be after adding the candidate, computed on a derived tally. It returns
// *LimitViolation for the first ceiling breached, nil when all pass.
//
// Settlement of a fill for a unit already approved here must not call
// Validate again; approval happens at proposal time.
func (m *Manager) Validate(snap *position.Snapshot, c Candidate) error {
	if c.Units <= 0 {
		return fmt.Errorf("candidate units must be positive, got %d", c.Units)
	}
	if c.N < 0 {
		return fmt.Errorf("candidate N must be non-negative, got %f", c.N)
	}

	group := c.Group
	if group == "" {
		group = m.GroupOf(c.Symbol)
	}
	ex := Derive(snap, m.GroupOf)

	if after := ex.BySymbol[c.Symbol] + c.Units; after > m.Limits.PerSymbol {
		return &LimitViolation{
			Kind: ViolationPerSymbol, Scope: c.Symbol,
			Current: float64(after), Limit: float64(m.Limits.PerSymbol),
		}
	}
	if after := ex.ByGroup[group] + c.Units; after > m.Limits.PerGroup {
		return &LimitViolation{
			Kind: ViolationPerGroup, Scope: group,
			Current: float64(after), Limit: float64(m.Limits.PerGroup),
		}
	}
	dirUnits := ex.Long
	if c.Direction == position.Short {
		dirUnits = ex.Short
	}
	if after := dirUnits + c.Units; after > m.Limits.PerDirection {
		return &LimitViolation{
			Kind: ViolationPerDirection, Scope: string(c.Direction),
			Current: float64(after), Limit: float64(m.Limits.PerDirection),
		}
	}
	if after := ex.NTotal + float64(c.Units)*c.N; after > m.Limits.MaxNExposure {
		return &LimitViolation{
			Kind: ViolationNExposure, Scope: "portfolio",
			Current: after, Limit: m.Limits.MaxNExposure,
		}
	}
	return nil
}
