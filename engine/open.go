package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/turtle/guard"
	"github.com/rustyeddy/turtle/internal/id"
	"github.com/rustyeddy/turtle/notify"
	"github.com/rustyeddy/turtle/position"
	"github.com/rustyeddy/turtle/risk"
)

// OpenRequest registers a confirmed breakout signal as a pending-entry
// position. Shares is the per-unit share count the position sizer computed.
type OpenRequest struct {
	Symbol    string
	System    int
	Direction position.Direction
	Price     float64
	N         float64
	Shares    int
}

func (r OpenRequest) validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.System != 1 && r.System != 2 {
		return fmt.Errorf("system must be 1 or 2, got %d", r.System)
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("direction %q", r.Direction)
	}
	if r.Price <= 0 || r.N <= 0 || r.Shares <= 0 {
		return fmt.Errorf("price, N and shares must be positive")
	}
	return nil
}

// Open records a pending-entry position after risk validation. The opening
// unit is approved here, at proposal time; its later fill settlement does
// not re-validate. Open takes the same run lock as Run, so it never races
// a scheduled check.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*position.Position, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	g, err := guard.Acquire(e.lockPath, e.owner, e.staleness)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := g.Release(); rerr != nil {
			e.log.Error("release run lock", "err", rerr)
		}
	}()

	snap, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	if existing := snap.OpenFor(req.Symbol, req.System); existing != nil {
		return nil, fmt.Errorf("open position %s already exists for %s system %d",
			existing.ID, req.Symbol, req.System)
	}

	cand := risk.Candidate{
		Symbol:    req.Symbol,
		Group:     e.riskMgr.GroupOf(req.Symbol),
		Direction: req.Direction,
		Units:     1,
		N:         req.N,
	}
	if err := e.riskMgr.Validate(snap, cand); err != nil {
		e.send(ctx, notify.Event{
			Kind:  notify.KindRisk,
			Title: fmt.Sprintf("Entry rejected: %s", req.Symbol),
			Body:  err.Error(),
		})
		return nil, err
	}

	now := e.now()
	p := position.NewPending(
		id.New(), req.Symbol, req.System, req.Direction, e.riskMgr.GroupOf(req.Symbol),
		req.Price, req.N, req.Shares, e.pyramids.Window, now,
	)
	snap.Positions = append(snap.Positions, p)

	if !e.dryRun {
		if err := e.store.Save(snap); err != nil {
			return nil, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	e.send(ctx, notify.Event{
		Kind:  notify.KindSignal,
		Title: fmt.Sprintf("Entry approved: %s", req.Symbol),
		Body: fmt.Sprintf("System %d %s at %.4f, stop %.4f, window until %s",
			req.System, req.Direction, req.Price, p.StopLoss,
			p.Entries[0].WindowEnd.Format(time.RFC3339)),
		Data: map[string]string{"position_id": p.ID},
	})
	return p, nil
}
