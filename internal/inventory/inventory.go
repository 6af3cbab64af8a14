// Package inventory implements the Fill & Inventory FSM (§4.7): the sole
// writer of inventory, average cost, and realized P&L. Per the spec's
// Design Notes ("Inventory as a single writer"), all mutation is routed
// through one actor goroutine driven by a command channel; readers get
// immutable snapshots instead of touching shared state directly.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// FillTolerance is the default acceptance tolerance used by fill
// verification against the cached authoritative positions map (§4.7).
var FillTolerance = decimal.NewFromFloat(0.01)

// PositionVerifier checks a claimed fill delta against the cached
// authoritative positions snapshot. matched reports whether the observed
// position change agrees with claimedDelta within tolerance; degraded
// reports the cache was unavailable, in which case the fill is accepted
// anyway per §4.7's "degraded acceptance with a warn-level log".
type PositionVerifier interface {
	Verify(mmID string, outcome mmtypes.Outcome, claimedDelta decimal.Decimal) (matched bool, degraded bool)
}

// FillSource distinguishes who is asking for a fill to be applied. Fills
// from the authoritative positions feed skip verification entirely — they
// define the ground truth being verified against.
type FillSource int

const (
	SourcePush FillSource = iota
	SourceReconcilePromotion
	SourceAuthoritative
)

// ApplyFillRequest is the command payload for a single observed fill.
type ApplyFillRequest struct {
	MMID         string
	Outcome      mmtypes.Outcome
	Side         mmtypes.Side
	Price        decimal.Decimal
	Delta        decimal.Decimal
	OrderID      string
	MatchedTotal decimal.Decimal // matched_total_after — the idempotency key component
	Source       FillSource
}

// Result reports the outcome of a processed command, delivered on the
// request's reply channel when one is supplied.
type Result struct {
	Applied bool
	Fill    *mmtypes.Fill
	Pending *mmtypes.PendingFillEvent
	Err     error
}

type command struct {
	kind    string // "fill", "overwrite", "pause", "resume", "config"
	fill    ApplyFillRequest
	mmID    string
	yesSize decimal.Decimal
	yesAvg  decimal.Decimal
	noSize  decimal.Decimal
	noAvg   decimal.Decimal
	reason  string
	config  mmtypes.MMConfig
	reply   chan Result
}

// Actor is the single writer of all MM inventory state. Create one with
// New, start it with Run in its own goroutine, and interact only through
// its exported methods — never reach into Snapshot's returned value and
// mutate it, it is a copy.
type Actor struct {
	logger   *slog.Logger
	verifier PositionVerifier

	cmdCh chan command

	mu    sync.Mutex // guards the live map; mutated by the actor goroutine and by Register
	state map[string]*mmtypes.MMState

	snapshot atomic.Value // map[string]mmtypes.MMState, swapped after every mutation

	seenMu sync.Mutex
	seen   map[string]struct{} // idempotency: orderID|matchedTotal already applied
}

// New builds an Actor. verifier may be nil only if every ApplyFill call
// uses SourceAuthoritative (tests / reconciliation-only setups).
func New(logger *slog.Logger, verifier PositionVerifier) *Actor {
	a := &Actor{
		logger:   logger,
		verifier: verifier,
		cmdCh:    make(chan command, 256),
		state:    make(map[string]*mmtypes.MMState),
		seen:     make(map[string]struct{}),
	}
	a.snapshot.Store(map[string]mmtypes.MMState{})
	return a
}

// Register seeds the actor with an MM's initial state (e.g. loaded from
// the store at startup).
func (a *Actor) Register(mmID string, initial mmtypes.MMState) {
	a.mu.Lock()
	st := initial
	a.state[mmID] = &st
	a.mu.Unlock()
	a.publishSnapshot()
}

// Run processes commands sequentially until ctx is cancelled. Apart from
// Register's direct seeding write, it is the only goroutine that mutates
// a.state.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmdCh:
			res := a.handle(cmd)
			if cmd.reply != nil {
				cmd.reply <- res
			}
		}
	}
}

func (a *Actor) handle(cmd command) Result {
	switch cmd.kind {
	case "fill":
		return a.applyFill(cmd.fill)
	case "overwrite":
		a.overwrite(cmd.mmID, cmd.yesSize, cmd.yesAvg, cmd.noSize, cmd.noAvg)
		return Result{Applied: true}
	case "pause":
		a.pause(cmd.mmID, cmd.reason)
		return Result{Applied: true}
	case "resume":
		a.resume(cmd.mmID)
		return Result{Applied: true}
	case "config":
		// Config updates don't touch runtime inventory state; a real
		// implementation would forward to the MM record store. Kept as a
		// no-op placeholder message kind so the channel vocabulary matches
		// the spec's {ApplyFill, OverwriteFromChain, Pause, ConfigUpdate}
		// exactly.
		return Result{Applied: true}
	default:
		return Result{Err: fmt.Errorf("inventory: unknown command kind %q", cmd.kind)}
	}
}

// send dispatches a command and waits for its reply.
func (a *Actor) send(cmd command) Result {
	cmd.reply = make(chan Result, 1)
	a.cmdCh <- cmd
	return <-cmd.reply
}

// ApplyFill is the public entrypoint for §4.7's apply_fill, including the
// fill-verification step for non-authoritative sources.
func (a *Actor) ApplyFill(req ApplyFillRequest) Result {
	return a.send(command{kind: "fill", fill: req})
}

// OverwriteFromChain implements the fast/full reconciliation sync's
// unconditional-overwrite operation (§4.8); gating logic (Open Question 2)
// lives in the reconcile package, which decides whether to call this at
// all for a given market this cycle.
func (a *Actor) OverwriteFromChain(mmID string, yesSize, yesAvg, noSize, noAvg decimal.Decimal) {
	a.send(command{kind: "overwrite", mmID: mmID, yesSize: yesSize, yesAvg: yesAvg, noSize: noSize, noAvg: noAvg})
}

// Pause marks an MM paused (e.g. on InvariantViolation, per §7).
func (a *Actor) Pause(mmID, reason string) {
	a.send(command{kind: "pause", mmID: mmID, reason: reason})
}

// Resume clears a pause, e.g. via an operator's Control API call.
func (a *Actor) Resume(mmID string) {
	a.send(command{kind: "resume", mmID: mmID})
}

func (a *Actor) applyFill(req ApplyFillRequest) Result {
	key := req.OrderID + "|" + req.MatchedTotal.String()
	a.seenMu.Lock()
	if _, dup := a.seen[key]; dup {
		a.seenMu.Unlock()
		return Result{Applied: false}
	}
	a.seenMu.Unlock()

	if req.Source != SourceAuthoritative && a.verifier != nil {
		matched, degraded := a.verifier.Verify(req.MMID, req.Outcome, req.Delta)
		if !matched && !degraded {
			a.logger.Warn("Fill verification failed", "mm_id", req.MMID, "outcome", req.Outcome, "order_id", req.OrderID)
			return Result{Applied: false, Pending: &mmtypes.PendingFillEvent{
				OrderID:      req.OrderID,
				MatchedTotal: req.MatchedTotal,
				MMID:         req.MMID,
				Outcome:      req.Outcome,
				Side:         req.Side,
				Price:        req.Price,
				Delta:        req.Delta,
				Status:       mmtypes.PendingStatusRejected,
				ObservedAt:   time.Now(),
			}}
		}
		if degraded {
			a.logger.Warn("fill accepted under degraded positions cache", "mm_id", req.MMID, "order_id", req.OrderID)
		}
	}

	a.mu.Lock()
	st, ok := a.state[req.MMID]
	if !ok {
		st = &mmtypes.MMState{}
		a.state[req.MMID] = st
	}

	var realizedDelta decimal.Decimal
	if req.Outcome == mmtypes.Yes {
		realizedDelta = applySide(&st.YesInventory, &st.AvgYesCost, req.Side, req.Price, req.Delta)
	} else {
		realizedDelta = applySide(&st.NoInventory, &st.AvgNoCost, req.Side, req.Price, req.Delta)
	}
	st.RealizedPnL = st.RealizedPnL.Add(realizedDelta)
	a.mu.Unlock()

	a.seenMu.Lock()
	a.seen[key] = struct{}{}
	a.seenMu.Unlock()

	a.publishSnapshot()

	return Result{Applied: true, Fill: &mmtypes.Fill{
		MMID:             req.MMID,
		Outcome:          req.Outcome,
		Side:             req.Side,
		Price:            req.Price,
		Size:             req.Delta,
		Value:            req.Price.Mul(req.Delta),
		RealizedPnLDelta: realizedDelta,
		FilledAt:         time.Now(),
	}}
}

// applySide implements the BUY/SELL avg-cost formulas of §4.7 for a
// single outcome's (inventory, avgCost) pair, returning the realized P&L
// delta.
func applySide(inventory, avgCost *decimal.Decimal, side mmtypes.Side, price, delta decimal.Decimal) decimal.Decimal {
	if side == mmtypes.Buy {
		newQty := inventory.Add(delta)
		if newQty.GreaterThan(decimal.Zero) {
			totalCost := avgCost.Mul(*inventory).Add(price.Mul(delta))
			*avgCost = totalCost.Div(newQty)
		}
		*inventory = newQty
		return decimal.Zero
	}

	// SELL
	var realized decimal.Decimal
	if inventory.GreaterThan(decimal.Zero) {
		closeQty := decimal.Min(delta, *inventory)
		realized = price.Sub(*avgCost).Mul(closeQty)
	}
	newQty := inventory.Sub(delta)
	if newQty.LessThan(decimal.Zero) {
		newQty = decimal.Zero
	}
	*inventory = newQty
	if inventory.IsZero() {
		*avgCost = decimal.Zero
	}
	return realized
}

func (a *Actor) overwrite(mmID string, yesSize, yesAvg, noSize, noAvg decimal.Decimal) {
	a.mu.Lock()
	st, ok := a.state[mmID]
	if !ok {
		st = &mmtypes.MMState{}
		a.state[mmID] = st
	}
	st.YesInventory = yesSize
	st.AvgYesCost = yesAvg
	st.NoInventory = noSize
	st.AvgNoCost = noAvg
	a.mu.Unlock()
	a.publishSnapshot()
}

func (a *Actor) pause(mmID, reason string) {
	a.mu.Lock()
	st, ok := a.state[mmID]
	if !ok {
		st = &mmtypes.MMState{}
		a.state[mmID] = st
	}
	st.Paused = true
	st.PauseReason = reason
	a.mu.Unlock()
	a.publishSnapshot()
}

func (a *Actor) resume(mmID string) {
	a.mu.Lock()
	st, ok := a.state[mmID]
	if !ok {
		st = &mmtypes.MMState{}
		a.state[mmID] = st
	}
	st.Paused = false
	st.PauseReason = ""
	a.mu.Unlock()
	a.publishSnapshot()
}

func (a *Actor) publishSnapshot() {
	a.mu.Lock()
	copySnap := make(map[string]mmtypes.MMState, len(a.state))
	for k, v := range a.state {
		copySnap[k] = *v
	}
	a.mu.Unlock()
	a.snapshot.Store(copySnap)
}

// Snapshot returns an immutable, lock-free read of one MM's current
// state, as the Design Notes prescribe for readers.
func (a *Actor) Snapshot(mmID string) (mmtypes.MMState, bool) {
	m := a.snapshot.Load().(map[string]mmtypes.MMState)
	st, ok := m[mmID]
	return st, ok
}
