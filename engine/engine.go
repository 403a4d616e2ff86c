// Package engine drives one orchestrated position check end to end:
// acquire the run lock, load the snapshot, settle fills, enforce stops,
// evaluate pyramiding under the portfolio risk limits, persist, release.
//
// The engine is stateless between runs. An external scheduler fires
// independent short-lived runs; the guard is the only cross-run
// synchronization, and within a run all position processing is sequential
// because every position draws on one shared risk budget.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/turtle/broker"
	"github.com/rustyeddy/turtle/config"
	"github.com/rustyeddy/turtle/fills"
	"github.com/rustyeddy/turtle/guard"
	"github.com/rustyeddy/turtle/journal"
	"github.com/rustyeddy/turtle/market"
	"github.com/rustyeddy/turtle/notify"
	"github.com/rustyeddy/turtle/position"
	"github.com/rustyeddy/turtle/pyramid"
	"github.com/rustyeddy/turtle/risk"
)

// Engine owns one run at a time. Build it per invocation; it holds no
// state the snapshot does not.
type Engine struct {
	store    *position.Store
	market   market.Provider
	fillSrc  broker.FillSource
	notifier notify.Notifier
	archive  journal.Journal
	riskMgr  *risk.Manager
	pyramids pyramid.Manager
	matcher  fills.Matcher
	log      *slog.Logger

	owner        string
	lockPath     string
	staleness    time.Duration
	collabWait   time.Duration
	fillLookback time.Duration
	dryRun       bool
	now          func() time.Time
}

// Options wires the engine's collaborators. Market, Fills and Store are
// required; Notifier defaults to the log channel and Archive may be nil.
type Options struct {
	Config   *config.Config
	Store    *position.Store
	Market   market.Provider
	Fills    broker.FillSource
	Notifier notify.Notifier
	Archive  journal.Journal
	Logger   *slog.Logger
	Owner    string
	DryRun   bool
}

func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.Store == nil || opts.Market == nil || opts.Fills == nil {
		return nil, fmt.Errorf("engine: config, store, market and fills are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Log{Logger: logger}
	}
	owner := opts.Owner
	if owner == "" {
		owner = fmt.Sprintf("turtle-%d", time.Now().UnixNano())
	}

	cfg := opts.Config
	return &Engine{
		store:    opts.Store,
		market:   opts.Market,
		fillSrc:  opts.Fills,
		notifier: notifier,
		archive:  opts.Archive,
		riskMgr:  risk.NewManager(cfg.Risk.Limits, cfg.Risk.SymbolGroups()),
		pyramids: pyramid.Manager{
			MaxUnits:  cfg.Pyramid.MaxUnits,
			IntervalN: cfg.Pyramid.IntervalN,
			StopN:     cfg.Pyramid.StopN,
			Window:    config.Duration(cfg.Pyramid.EntryWindow),
		},
		matcher: fills.Matcher{
			Tolerance:      config.Duration(cfg.Engine.MatchTolerance),
			PriceTolerance: cfg.Engine.PriceTolerance,
		},
		log:          logger,
		owner:        owner,
		lockPath:     cfg.Data.LockPath,
		staleness:    config.Duration(cfg.Engine.LockStaleness),
		collabWait:   config.Duration(cfg.Engine.CollaboratorTimeout),
		fillLookback: config.Duration(cfg.Engine.FillLookback),
		dryRun:       opts.DryRun,
		now:          time.Now,
	}, nil
}

// Report summarizes one completed run.
type Report struct {
	Positions      int
	Settled        int
	Discarded      int
	Closed         int
	Pyramided      int
	RiskRejections int
	Skipped        int
	LockReclaimed  bool
}

// Run executes one full check. Only guard acquisition failure and a
// corrupt snapshot abort; every other condition is scoped to its position
// or symbol and the rest of the portfolio is still processed. A Busy guard
// surfaces as guard.ErrBusy without touching the snapshot.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var rep Report

	g, err := guard.Acquire(e.lockPath, e.owner, e.staleness)
	if err != nil {
		return rep, err
	}
	defer func() {
		if rerr := g.Release(); rerr != nil {
			e.log.Error("release run lock", "err", rerr)
		}
	}()

	if g.Reclaimed() {
		rep.LockReclaimed = true
		e.log.Warn("stale run lock reclaimed", "owner", e.owner, "staleness", e.staleness)
		e.send(ctx, notify.Event{
			Kind:  notify.KindError,
			Title: "Stale run lock reclaimed",
			Body:  "previous run presumed crashed; its lock was older than the staleness threshold",
		})
	}

	snap, err := e.store.Load()
	if err != nil {
		// A corrupt snapshot aborts before any matching or validation.
		return rep, err
	}

	open := snap.Open()
	rep.Positions = len(open)
	e.log.Info("check run start", "owner", e.owner, "open_positions", len(open), "dry_run", e.dryRun)

	var closed []*position.Position
	for _, p := range open {
		done, err := e.process(ctx, snap, p, &rep)
		if err != nil {
			rep.Skipped++
			e.log.Error("position skipped", "position", p.ID, "symbol", p.Symbol, "err", err)
			e.send(ctx, notify.Event{
				Kind:  notify.KindError,
				Title: fmt.Sprintf("Position %s skipped", p.Symbol),
				Body:  err.Error(),
				Data:  map[string]string{"position_id": p.ID},
			})
			continue
		}
		if done != nil {
			closed = append(closed, done)
		}
	}

	e.discardEmpty(snap)

	if !e.dryRun {
		if err := e.store.Save(snap); err != nil {
			return rep, fmt.Errorf("persist snapshot: %w", err)
		}
		for _, p := range closed {
			e.archiveClosed(p)
		}
	}

	e.log.Info("check run complete",
		"settled", rep.Settled, "closed", rep.Closed, "pyramided", rep.Pyramided,
		"risk_rejections", rep.RiskRejections, "skipped", rep.Skipped)
	return rep, nil
}

// process runs one position through settlement, stop enforcement, and
// pyramid evaluation. It returns the position when this run closed it.
func (e *Engine) process(ctx context.Context, snap *position.Snapshot, p *position.Position, rep *Report) (*position.Position, error) {
	now := e.now()

	if pending, ok := p.Pending(); ok {
		settled, err := e.settle(ctx, p, pending, rep)
		if err != nil {
			return nil, err
		}
		if !settled && p.Status == position.StatusPendingEntry {
			// Opening fill still outstanding; nothing else applies yet.
			return nil, nil
		}
	}

	if p.FilledUnits() == 0 {
		return nil, nil
	}

	if p.Status == position.StatusClosing {
		// Exit confirmation needs fills only; a market-data outage must
		// not delay it.
		return e.confirmExit(ctx, p, rep)
	}

	price, n, err := e.quote(ctx, p.Symbol)
	if err != nil {
		// Collaborator unavailable: skip this symbol this run, retry on
		// the next scheduled invocation.
		return nil, err
	}

	if p.StopHit(price) {
		e.log.Warn("stop loss triggered", "position", p.ID, "symbol", p.Symbol, "stop", p.StopLoss, "price", price)
		p.Status = position.StatusClosing
		p.UpdatedAt = now
		e.send(ctx, notify.Event{
			Kind:  notify.KindTrade,
			Title: fmt.Sprintf("Stop loss triggered: %s", p.Symbol),
			Body:  fmt.Sprintf("%s position stopped at %.4f (stop %.4f)", p.Direction, price, p.StopLoss),
			Data:  map[string]string{"position_id": p.ID},
		})
		return e.confirmExit(ctx, p, rep)
	}

	dec := e.pyramids.Evaluate(p, price, n, now)
	if !dec.Propose {
		e.log.Debug("no pyramid", "position", p.ID, "reason", dec.Reason)
		return nil, nil
	}

	cand := risk.Candidate{
		Symbol:    p.Symbol,
		Group:     e.riskMgr.GroupOf(p.Symbol),
		Direction: p.Direction,
		Units:     1,
		N:         n,
	}
	if err := e.riskMgr.Validate(snap, cand); err != nil {
		var lv *risk.LimitViolation
		if errors.As(err, &lv) {
			rep.RiskRejections++
			e.log.Info("pyramid rejected by risk limit",
				"position", p.ID, "kind", string(lv.Kind), "current", lv.Current, "limit", lv.Limit)
			e.send(ctx, notify.Event{
				Kind:  notify.KindRisk,
				Title: fmt.Sprintf("Pyramid rejected: %s", p.Symbol),
				Body:  lv.Error(),
				Data:  map[string]string{"position_id": p.ID, "limit": string(lv.Kind)},
			})
			return nil, nil
		}
		return nil, err
	}

	e.pyramids.Commit(p, dec.Candidate, now)
	rep.Pyramided++
	e.send(ctx, notify.Event{
		Kind:  notify.KindSignal,
		Title: fmt.Sprintf("Pyramid unit approved: %s", p.Symbol),
		Body: fmt.Sprintf("unit %d proposed at %.4f, stop tightened to %.4f",
			dec.Candidate.UnitIndex+1, dec.Candidate.IntendedPrice, p.StopLoss),
		Data: map[string]string{"position_id": p.ID},
	})
	return nil, nil
}

// settle reconciles the position's pending entry against recent broker
// fills. It reports whether the entry was settled this run.
func (e *Engine) settle(ctx context.Context, p *position.Position, pending position.Entry, rep *Report) (bool, error) {
	recent, err := e.recentFills(ctx, p.Symbol, pending.WindowStart.Add(-e.fillLookback))
	if err != nil {
		return false, err
	}

	res := e.matcher.Match(pending, p.Symbol, fills.EntrySide(p.Direction), recent)
	now := e.now()

	switch res.Kind {
	case fills.Matched:
		fillTime := now
		if res.Fill.ExecutedAt != nil {
			fillTime = *res.Fill.ExecutedAt
		}
		if err := e.pyramids.Settle(p, pending.UnitIndex, res.Fill.Price, fillTime, res.Confidence); err != nil {
			return false, err
		}
		if p.Status == position.StatusPendingEntry {
			p.Status = position.StatusOpen
		}
		rep.Settled++
		e.send(ctx, notify.Event{
			Kind:  notify.KindTrade,
			Title: fmt.Sprintf("Entry filled: %s", p.Symbol),
			Body: fmt.Sprintf("unit %d filled at %.4f (%s)",
				pending.UnitIndex+1, res.Fill.Price, res.Confidence),
			Data: map[string]string{"position_id": p.ID, "order_ref": res.Fill.OrderRef},
		})
		return true, nil

	case fills.Ambiguous:
		// Never auto-resolved: flag for manual review and skip the
		// position for this run.
		return false, fmt.Errorf("ambiguous fill match for unit %d: %d candidates require review",
			pending.UnitIndex+1, len(res.Candidates))

	default: // NoCandidate
		if !pending.Expired(now) {
			return false, nil
		}
		if pending.UnitIndex == 0 {
			// Opening entry never filled: the position reverts to
			// discarded. discardEmpty removes it from the snapshot.
			p.Entries = p.Entries[:0]
			rep.Discarded++
			e.send(ctx, notify.Event{
				Kind:  notify.KindTrade,
				Title: fmt.Sprintf("Entry discarded: %s", p.Symbol),
				Body:  "opening entry window expired with no matching fill",
				Data:  map[string]string{"position_id": p.ID},
			})
			return false, nil
		}
		if err := e.pyramids.Discard(p, pending.UnitIndex, now); err != nil {
			return false, err
		}
		rep.Discarded++
		e.send(ctx, notify.Event{
			Kind:  notify.KindRisk,
			Title: fmt.Sprintf("Pyramid entry expired: %s", p.Symbol),
			Body:  fmt.Sprintf("unit %d window expired unfilled; its Unit returns to the budget", pending.UnitIndex+1),
			Data:  map[string]string{"position_id": p.ID},
		})
		return false, nil
	}
}

// confirmExit matches the exit fill for a closing position. Until a fill
// confirms, the position stays in closing and is retried next run.
func (e *Engine) confirmExit(ctx context.Context, p *position.Position, rep *Report) (*position.Position, error) {
	now := e.now()
	recent, err := e.recentFills(ctx, p.Symbol, now.Add(-e.fillLookback))
	if err != nil {
		return nil, err
	}

	probe := position.Entry{
		IntendedPrice: p.StopLoss,
		WindowStart:   p.UpdatedAt,
		WindowEnd:     now,
	}
	res := e.matcher.Match(probe, p.Symbol, fills.ExitSide(p.Direction), recent)

	switch res.Kind {
	case fills.Matched:
		fillTime := now
		if res.Fill.ExecutedAt != nil {
			fillTime = *res.Fill.ExecutedAt
		}
		p.Close(res.Fill.Price, fillTime, "stop loss")
		rep.Closed++
		e.send(ctx, notify.Event{
			Kind:  notify.KindTrade,
			Title: fmt.Sprintf("Position closed: %s", p.Symbol),
			Body: fmt.Sprintf("%s closed at %.4f, P&L %.2f (%.2fR)",
				p.Direction, p.ExitPrice, p.RealizedPL, p.RMultiple),
			Data: map[string]string{"position_id": p.ID},
		})
		return p, nil
	case fills.Ambiguous:
		return nil, fmt.Errorf("ambiguous exit fill match: %d candidates require review", len(res.Candidates))
	default:
		e.log.Info("exit fill not yet confirmed", "position", p.ID, "symbol", p.Symbol)
		return nil, nil
	}
}

func (e *Engine) quote(ctx context.Context, symbol string) (price, n float64, err error) {
	cctx, cancel := context.WithTimeout(ctx, e.collabWait)
	defer cancel()

	price, err = e.market.GetLatestPrice(cctx, symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("latest price for %s: %w", symbol, err)
	}
	n, err = e.market.GetATR(cctx, symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("ATR for %s: %w", symbol, err)
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("ATR for %s: %w", symbol, market.ErrUnavailable)
	}
	return price, n, nil
}

func (e *Engine) recentFills(ctx context.Context, symbol string, since time.Time) ([]broker.FillRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, e.collabWait)
	defer cancel()

	recent, err := e.fillSrc.GetRecentFills(cctx, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("recent fills for %s: %w", symbol, err)
	}
	return recent, nil
}

// discardEmpty drops positions whose opening entry was discarded.
func (e *Engine) discardEmpty(snap *position.Snapshot) {
	kept := snap.Positions[:0]
	for _, p := range snap.Positions {
		if len(p.Entries) == 0 {
			e.log.Info("position discarded", "position", p.ID, "symbol", p.Symbol)
			continue
		}
		kept = append(kept, p)
	}
	snap.Positions = kept
}

func (e *Engine) archiveClosed(p *position.Position) {
	if e.archive == nil {
		return
	}
	err := e.archive.AppendClosed(journal.ClosedRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		System:     p.System,
		Direction:  string(p.Direction),
		Units:      p.FilledUnits(),
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		OpenTime:   p.OpenedAt,
		CloseTime:  p.ExitTime,
		RealizedPL: p.RealizedPL,
		RMultiple:  p.RMultiple,
		Reason:     p.ExitReason,
	})
	if err != nil {
		e.log.Error("archive closed position", "position", p.ID, "err", err)
	}
}

// send delivers a notification best-effort; failures are logged, never
// propagated.
func (e *Engine) send(ctx context.Context, ev Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn("notification failed", "kind", string(ev.Kind), "title", ev.Title, "err", err)
	}
}

// Event aliases the notify type for internal readability.
type Event = notify.Event
