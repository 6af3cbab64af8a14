package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/internal/reconcile"
	"github.com/favored-labs/predictmm/internal/venue"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// pendingFillTTL bounds how long a PENDING fill event may wait for its
// claimed delta to agree with a freshly refreshed authoritative position
// before the full sync gives up and marks it REJECTED (§4.7).
const pendingFillTTL = 10 * time.Minute

func (e *Engine) mmRuntime(mmID string) (*mmRuntime, bool) {
	e.mmsMu.RLock()
	defer e.mmsMu.RUnlock()
	rt, ok := e.mms[mmID]
	return rt, ok
}

func (e *Engine) allRuntimes() []*mmRuntime {
	e.mmsMu.RLock()
	defer e.mmsMu.RUnlock()
	out := make([]*mmRuntime, 0, len(e.mms))
	for _, rt := range e.mms {
		out = append(out, rt)
	}
	return out
}

// applyObservedFill routes a discovered fill through the single-writer
// inventory actor, feeding the winning outcome's toxicity tracker and
// persisting the confirmed ledger row or the pending-fill record.
func (e *Engine) applyObservedFill(req inventory.ApplyFillRequest) {
	res := e.inv.ApplyFill(req)
	if res.Applied {
		if res.Fill != nil {
			if err := e.store.RecordFill(req.MMID, *res.Fill); err != nil {
				e.logger.Error("record fill failed", "mm_id", req.MMID, "error", err)
			}
			if rt, ok := e.mmRuntime(req.MMID); ok {
				rt.flowFor(req.Outcome).AddFill(*res.Fill)
			}
			e.emitEvent(mmtypes.EventFill, req.MMID, req.OrderID, nil)
		}
		return
	}
	if res.Pending != nil {
		if err := e.store.InsertPendingFillEvent(*res.Pending); err != nil {
			e.logger.Error("insert pending fill event failed", "mm_id", req.MMID, "error", err)
		}
	}
}

// fastSync is the fast_sync job (§4.7/§4.8): polls each distinct venue's
// fill history since the last poll, then runs the gated positions
// overwrite.
func (e *Engine) fastSync(ctx context.Context) error {
	runtimes := e.allRuntimes()
	if len(runtimes) == 0 {
		return nil
	}

	venueByID := make(map[string]bool)
	for _, rt := range runtimes {
		venueByID[rt.venueID] = true
	}

	for venueID := range venueByID {
		adapter, err := e.registry.Get(venueID)
		if err != nil {
			continue
		}

		e.fillSyncMu.Lock()
		since := e.fillSyncAt[venueID]
		e.fillSyncMu.Unlock()

		fills, err := adapter.Fills(ctx, since)
		if err != nil {
			e.logger.Error("fills poll failed", "venue", venueID, "error", err)
			continue
		}

		for _, f := range fills {
			mmID, outcome, ok := e.resolver.Resolve(f.TokenID)
			if !ok {
				continue
			}
			e.applyObservedFill(inventory.ApplyFillRequest{
				MMID:         mmID,
				Outcome:      outcome,
				Side:         f.Side,
				Price:        f.Price,
				Delta:        f.Size,
				OrderID:      f.ID,
				MatchedTotal: f.Size,
				Source:       inventory.SourceReconcilePromotion,
			})
		}

		e.fillSyncMu.Lock()
		e.fillSyncAt[venueID] = time.Now().Unix()
		e.fillSyncMu.Unlock()
	}

	positions := e.collectPositions(ctx, runtimes)
	warnings := e.fastSyncer.Sync(ctx, positions, e.store.HasLivePending)
	for _, w := range warnings {
		e.emitEvent(mmtypes.EventPartialFill, w.MMID, fmt.Sprintf("drift %s->%s", w.Before, w.After), nil)
	}

	e.persistRuntimeStates(runtimes)
	return nil
}

// fullSync is the full_sync job (§4.8): the orders pass, the positions
// pass, and PENDING fill promotion.
func (e *Engine) fullSync(ctx context.Context) error {
	runtimes := e.allRuntimes()

	for _, rt := range runtimes {
		if err := e.orderSyncOneMarket(ctx, rt); err != nil {
			e.logger.Error("full sync orders pass failed", "mm_id", rt.mm.MMID, "error", err)
		}
	}

	positions := e.collectPositions(ctx, runtimes)
	issues := reconcile.PositionsPass(e.inv, positions, nil, nil)
	for _, issue := range issues {
		e.logger.Warn("positions pass drift",
			"mm_id", issue.MMID, "outcome", issue.Outcome, "before", issue.Before, "after", issue.After, "reason", issue.Reason)
		e.emitEvent(mmtypes.EventPartialFill, issue.MMID, string(issue.Reason), nil)
	}

	if err := e.promotePendingFills(ctx); err != nil {
		e.logger.Error("pending fill promotion failed", "error", err)
	}

	e.persistRuntimeStates(runtimes)

	e.syncMu.Lock()
	e.lastFullSyncAt = time.Now()
	e.syncMu.Unlock()

	return nil
}

func (e *Engine) orderSyncOneMarket(ctx context.Context, rt *mmRuntime) error {
	adapter, err := e.registry.Get(rt.venueID)
	if err != nil {
		return err
	}

	tracked, err := e.store.ListTrackedOrders(rt.mm.MMID)
	if err != nil {
		return fmt.Errorf("list tracked orders: %w", err)
	}

	open, err := adapter.OpenOrders(ctx, venue.OpenOrdersFilter{MarketID: rt.market.MarketID})
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		openIDs[o.OrderID] = true
	}

	lookup := func(ctx context.Context, orderID string) (string, decimal.Decimal, bool, error) {
		res := adapter.GetOrder(ctx, orderID)
		switch res.Status {
		case venue.OrderOK:
			return res.VenueStatus, res.Order.LastMatchedSize, true, nil
		case venue.OrderNotFound:
			return "", decimal.Zero, false, nil
		default:
			return "", decimal.Zero, false, res.Err
		}
	}

	applyFill := func(order mmtypes.TrackedOrder, delta decimal.Decimal, source inventory.FillSource) error {
		e.applyObservedFill(inventory.ApplyFillRequest{
			MMID:         order.Key.MMID,
			Outcome:      order.Key.Outcome,
			Side:         order.Key.Side,
			Price:        order.Price,
			Delta:        delta,
			OrderID:      order.OrderID,
			MatchedTotal: order.LastMatchedSize.Add(delta),
			Source:       source,
		})
		return nil
	}

	result := reconcile.OrdersPass(ctx, tracked, openIDs, lookup, applyFill, e.logger)
	for _, id := range result.Deleted {
		e.store.DeleteTrackedOrder(id)
	}
	return nil
}

// promotePendingFills implements §4.7's oldest-first promotion of
// PENDING fill events: once the positions pass above has refreshed the
// authoritative cache, a retry of the same claimed delta is more likely
// to agree. Events older than pendingFillTTL that still don't agree are
// rejected outright.
func (e *Engine) promotePendingFills(ctx context.Context) error {
	rows, err := e.store.ListPendingFillEvents()
	if err != nil {
		return err
	}

	for _, row := range rows {
		res := e.inv.ApplyFill(inventory.ApplyFillRequest{
			MMID:         row.MMID,
			Outcome:      row.Outcome,
			Side:         row.Side,
			Price:        row.Price,
			Delta:        row.Delta,
			OrderID:      row.OrderID,
			MatchedTotal: row.MatchedTotal,
			Source:       inventory.SourceReconcilePromotion,
		})

		switch {
		case res.Applied:
			if res.Fill != nil {
				if err := e.store.RecordFill(row.MMID, *res.Fill); err != nil {
					e.logger.Error("record promoted fill failed", "mm_id", row.MMID, "error", err)
				}
				if rt, ok := e.mmRuntime(row.MMID); ok {
					rt.flowFor(row.Outcome).AddFill(*res.Fill)
				}
			}
			if err := e.store.ResolvePendingFillEvent(row.OrderID, row.MatchedTotal, mmtypes.PendingStatusConfirmed); err != nil {
				e.logger.Error("resolve pending fill (confirmed) failed", "order_id", row.OrderID, "error", err)
			}
		case time.Since(row.CreatedAt) > pendingFillTTL:
			if err := e.store.ResolvePendingFillEvent(row.OrderID, row.MatchedTotal, mmtypes.PendingStatusRejected); err != nil {
				e.logger.Error("resolve pending fill (rejected) failed", "order_id", row.OrderID, "error", err)
			}
			e.logger.Warn("pending fill expired without confirmation", "order_id", row.OrderID, "mm_id", row.MMID)
		default:
			// still within TTL and still unconfirmed: leave PENDING for the
			// next full sync to retry.
		}
	}
	return nil
}

// persistRuntimeStates writes the Inventory FSM's latest snapshot back to
// the store for each runtime, so a restart resumes from the same state.
func (e *Engine) persistRuntimeStates(runtimes []*mmRuntime) {
	for _, rt := range runtimes {
		st, ok := e.inv.Snapshot(rt.mm.MMID)
		if !ok {
			continue
		}
		rt.mm.State = st
		if err := e.store.UpsertMarketMaker(rt.mm); err != nil {
			e.logger.Error("persist market maker state failed", "mm_id", rt.mm.MMID, "error", err)
		}
	}
}
