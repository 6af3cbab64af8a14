// Package reconcile implements Reconciliation (§4.8): the fast inventory
// sync, the hourly full sync (orders pass + positions pass), and the
// guarded reset-to-chain operation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// DriftThreshold is the default fast-sync drift-warning threshold in
// shares (§4.8).
var DriftThreshold = decimal.NewFromFloat(0.1)

// SnapshotAgreementTolerance is how close two consecutive positions
// snapshots must be to be considered "agreeing" for Open Question 2's
// gated-overwrite policy.
var SnapshotAgreementTolerance = decimal.NewFromFloat(0.01)

// OutcomePosition is one outcome's slice of a fast-sync positions fetch.
type OutcomePosition struct {
	Outcome mmtypes.Outcome
	mmtypes.AuthoritativePosition
}

// PendingLookup reports whether a PENDING (unconfirmed) fill event exists
// for the given MM/outcome — used by the fast-sync overwrite gate.
type PendingLookup func(mmID string, outcome mmtypes.Outcome) bool

// DriftWarning is logged (and returned for callers that surface it on the
// status endpoint) whenever observed drift reaches or exceeds DriftThreshold.
type DriftWarning struct {
	MMID    string
	Outcome mmtypes.Outcome
	Before  decimal.Decimal
	After   decimal.Decimal
}

// FastSyncer implements the ~10s inventory sync. It is stateful: per
// Open Question 2, it gates the unconditional-overwrite behavior on
// agreement between two consecutive snapshots, so it must persist the
// previous snapshot across calls.
type FastSyncer struct {
	logger *slog.Logger
	inv    *inventory.Actor

	mu   sync.Mutex
	prev map[string]map[mmtypes.Outcome]decimal.Decimal
}

func NewFastSyncer(logger *slog.Logger, inv *inventory.Actor) *FastSyncer {
	return &FastSyncer{logger: logger, inv: inv, prev: make(map[string]map[mmtypes.Outcome]decimal.Decimal)}
}

// Sync runs one fast-sync cycle. positions is keyed by mm_id then
// outcome, already fetched by the caller (the venue adapter's
// positions() call, mapped from token id to mm_id/outcome by the
// caller). hasLivePending checks for an un-confirmed PendingFillEvent.
//
// Resolution of Open Question 2: the overwrite for a given (mm, outcome)
// only proceeds if EITHER the current snapshot agrees with the previous
// one within SnapshotAgreementTolerance, OR there is no live pending-fill
// event for that (mm, outcome) — meaning there is nothing recent the
// overwrite could erase. Otherwise the stale snapshot is skipped this
// cycle and will be retried (and likely agree) next cycle.
func (f *FastSyncer) Sync(_ context.Context, positions map[string][]OutcomePosition, hasLivePending PendingLookup) []DriftWarning {
	var warnings []DriftWarning

	f.mu.Lock()
	defer f.mu.Unlock()

	for mmID, outcomes := range positions {
		cur, ok := f.inv.Snapshot(mmID)
		if !ok {
			cur = mmtypes.MMState{}
		}

		yes, yesAvg := cur.YesInventory, cur.AvgYesCost
		no, noAvg := cur.NoInventory, cur.AvgNoCost

		for _, op := range outcomes {
			prevSize, hadPrev := f.prevFor(mmID, op.Outcome)
			agrees := hadPrev && prevSize.Sub(op.Size).Abs().LessThanOrEqual(SnapshotAgreementTolerance)
			noPending := !hasLivePending(mmID, op.Outcome)

			var before decimal.Decimal
			if op.Outcome == mmtypes.Yes {
				before = yes
			} else {
				before = no
			}

			if agrees || noPending {
				drift := before.Sub(op.Size).Abs()
				if drift.GreaterThanOrEqual(DriftThreshold) {
					f.logger.Warn("inventory drift on fast sync",
						"mm_id", mmID, "outcome", op.Outcome, "before", before, "after", op.Size, "drift", drift)
					warnings = append(warnings, DriftWarning{MMID: mmID, Outcome: op.Outcome, Before: before, After: op.Size})
				}
				if op.Outcome == mmtypes.Yes {
					yes, yesAvg = op.Size, op.AvgPrice
				} else {
					no, noAvg = op.Size, op.AvgPrice
				}
			} else {
				f.logger.Debug("fast sync overwrite gated: snapshots disagree and a pending fill is outstanding",
					"mm_id", mmID, "outcome", op.Outcome)
			}

			f.setPrev(mmID, op.Outcome, op.Size)
		}

		f.inv.OverwriteFromChain(mmID, yes, yesAvg, no, noAvg)
	}

	return warnings
}

func (f *FastSyncer) prevFor(mmID string, outcome mmtypes.Outcome) (decimal.Decimal, bool) {
	m, ok := f.prev[mmID]
	if !ok {
		return decimal.Zero, false
	}
	v, ok := m[outcome]
	return v, ok
}

func (f *FastSyncer) setPrev(mmID string, outcome mmtypes.Outcome, size decimal.Decimal) {
	m, ok := f.prev[mmID]
	if !ok {
		m = make(map[mmtypes.Outcome]decimal.Decimal, 2)
		f.prev[mmID] = m
	}
	m[outcome] = size
}

// OrderStatusLookup resolves get_order(id) for the orders pass.
type OrderStatusLookup func(ctx context.Context, orderID string) (status string, sizeMatched decimal.Decimal, found bool, err error)

// FillApplier applies a fill delta discovered during the orders pass.
type FillApplier func(order mmtypes.TrackedOrder, delta decimal.Decimal, source inventory.FillSource) error

var terminalStatuses = map[string]bool{"MATCHED": true, "CANCELLED": true, "CANCELED": true, "EXPIRED": true}
var liveStatuses = map[string]bool{"LIVE": true, "OPEN": true}

// OrdersPassResult summarizes one full-sync orders pass.
type OrdersPassResult struct {
	Deleted     []string // order ids removed as NOT_FOUND or terminal
	KeptWarned  []string // order ids kept: LIVE but absent from open-orders list
	FillsBackfilled int
	Skipped     bool // defensive skip: venue returned zero open orders while tracked orders exist
}

// OrdersPass implements §4.8's orders pass, including the defensive skip
// when the venue returns an empty open-orders list while we hold tracked
// orders (refusing destructive reconciliation per §7's DataDegraded
// policy).
func OrdersPass(ctx context.Context, tracked []mmtypes.TrackedOrder, openOrderIDs map[string]bool, lookup OrderStatusLookup, applyFill FillApplier, logger *slog.Logger) OrdersPassResult {
	result := OrdersPassResult{}

	if len(openOrderIDs) == 0 && len(tracked) > 0 {
		logger.Warn("full sync orders pass skipped: venue returned zero open orders against nonzero tracked orders")
		result.Skipped = true
		return result
	}

	for _, order := range tracked {
		if openOrderIDs[order.OrderID] {
			continue
		}

		status, sizeMatched, found, err := lookup(ctx, order.OrderID)
		if err != nil {
			logger.Warn("get_order failed during orders pass", "order_id", order.OrderID, "error", err)
			continue
		}
		if !found {
			result.Deleted = append(result.Deleted, order.OrderID)
			continue
		}

		status = normalizeStatus(status)
		switch {
		case liveStatuses[status]:
			logger.Warn("tracked order LIVE but missing from open-orders list", "order_id", order.OrderID)
			result.KeptWarned = append(result.KeptWarned, order.OrderID)
		case terminalStatuses[status]:
			if sizeMatched.GreaterThan(order.LastMatchedSize) {
				delta := sizeMatched.Sub(order.LastMatchedSize)
				if err := applyFill(order, delta, inventory.SourceAuthoritative); err != nil {
					logger.Error("failed to backfill terminal-order fill", "order_id", order.OrderID, "error", err)
				} else {
					result.FillsBackfilled++
				}
			}
			result.Deleted = append(result.Deleted, order.OrderID)
		default:
			logger.Warn("get_order returned unrecognized status", "order_id", order.OrderID, "status", status)
		}
	}

	return result
}

func normalizeStatus(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// DriftReason is a drift-explanation heuristic emitted by the positions
// pass of full sync (§4.8).
type DriftReason string

const (
	ReasonExternalSale         DriftReason = "EXTERNAL_SALE"
	ReasonPositionMerged       DriftReason = "POSITION_MERGED"
	ReasonUntrackedReduction   DriftReason = "UNTRACKED_REDUCTION"
	ReasonUntrackedIncrease    DriftReason = "UNTRACKED_INCREASE"
	ReasonTrackedSellsNotSynced DriftReason = "TRACKED_SELLS_NOT_SYNCED"
)

// PositionsIssue is one drift finding from the positions pass.
type PositionsIssue struct {
	MMID    string
	Outcome mmtypes.Outcome
	Before  decimal.Decimal
	After   decimal.Decimal
	Reason  DriftReason
}

// PositionsPass runs the same overwrite as the fast sync but returns a
// richer set of drift-explanation heuristics instead of a plain warning.
// recentSells/recentBuys are counts of locally-recorded fills since the
// last full sync, used to pick a heuristic reason.
func PositionsPass(inv *inventory.Actor, positions map[string][]OutcomePosition, recentSellCount, recentBuyCount map[string]map[mmtypes.Outcome]int) []PositionsIssue {
	var issues []PositionsIssue

	for mmID, outcomes := range positions {
		cur, _ := inv.Snapshot(mmID)
		yes, yesAvg := cur.YesInventory, cur.AvgYesCost
		no, noAvg := cur.NoInventory, cur.AvgNoCost

		for _, op := range outcomes {
			var before decimal.Decimal
			if op.Outcome == mmtypes.Yes {
				before = yes
			} else {
				before = no
			}

			drift := op.Size.Sub(before)
			if !drift.IsZero() {
				reason := classifyDrift(mmID, op.Outcome, drift, recentSellCount, recentBuyCount)
				issues = append(issues, PositionsIssue{MMID: mmID, Outcome: op.Outcome, Before: before, After: op.Size, Reason: reason})
			}

			if op.Outcome == mmtypes.Yes {
				yes, yesAvg = op.Size, op.AvgPrice
			} else {
				no, noAvg = op.Size, op.AvgPrice
			}
		}

		inv.OverwriteFromChain(mmID, yes, yesAvg, no, noAvg)
	}

	return issues
}

func classifyDrift(mmID string, outcome mmtypes.Outcome, drift decimal.Decimal, sells, buys map[string]map[mmtypes.Outcome]int) DriftReason {
	sellCount := countFor(sells, mmID, outcome)
	buyCount := countFor(buys, mmID, outcome)

	if drift.IsNegative() {
		if sellCount > 0 {
			return ReasonTrackedSellsNotSynced
		}
		return ReasonExternalSale
	}
	if buyCount > 0 {
		return ReasonPositionMerged
	}
	if sellCount > 0 {
		return ReasonUntrackedReduction
	}
	return ReasonUntrackedIncrease
}

func countFor(m map[string]map[mmtypes.Outcome]int, mmID string, outcome mmtypes.Outcome) int {
	if m == nil {
		return 0
	}
	sub, ok := m[mmID]
	if !ok {
		return 0
	}
	return sub[outcome]
}

var errBadConfirmation = errors.New("reconcile: reset-to-chain confirmation token mismatch")

// ResetToChain implements §4.8's irreversible reset: overwrite all MM
// inventory from positions and clear all tracked orders. Guarded by an
// explicit confirmation token the caller must have obtained out-of-band
// (e.g. from a prior status call) to avoid an accidental trigger via the
// Control API.
func ResetToChain(ctx context.Context, expectedToken, providedToken string, inv *inventory.Actor, positions map[string][]OutcomePosition, clearTrackedOrders func(ctx context.Context) error, logger *slog.Logger) error {
	if providedToken == "" || providedToken != expectedToken {
		return errBadConfirmation
	}

	for mmID, outcomes := range positions {
		var yes, yesAvg, no, noAvg decimal.Decimal
		for _, op := range outcomes {
			if op.Outcome == mmtypes.Yes {
				yes, yesAvg = op.Size, op.AvgPrice
			} else {
				no, noAvg = op.Size, op.AvgPrice
			}
		}
		inv.OverwriteFromChain(mmID, yes, yesAvg, no, noAvg)
	}

	if err := clearTrackedOrders(ctx); err != nil {
		return fmt.Errorf("reconcile: reset-to-chain clear tracked orders: %w", err)
	}

	logger.Warn("reset-to-chain executed: all inventory overwritten from positions, tracked orders cleared")
	return nil
}

// Now returns the wall-clock time used to age pending-fill events; a thin
// seam so tests can avoid depending on real time passing.
var Now = time.Now
