package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/dispatch"
	"github.com/favored-labs/predictmm/internal/risk"
	"github.com/favored-labs/predictmm/internal/sanity"
	"github.com/favored-labs/predictmm/internal/venue"
	"github.com/favored-labs/predictmm/internal/quote"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// quoteCycle is the quote_loop job (§4.4-§4.6): one pass over every
// enrolled, active, unpaused market maker. Each market's cycle is
// serialized by its own mmRuntime.mu so a slow venue call on one market
// never blocks another's quoting, per Design Notes §9.
func (e *Engine) quoteCycle(ctx context.Context) error {
	if !e.cfg.MM.Enabled || e.riskMgr.IsKillSwitchActive() {
		return nil
	}

	e.mmsMu.RLock()
	runtimes := make([]*mmRuntime, 0, len(e.mms))
	for _, rt := range e.mms {
		runtimes = append(runtimes, rt)
	}
	e.mmsMu.RUnlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		rt := rt
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.quoteOneMarket(ctx, rt); err != nil {
				e.logger.Error("quote cycle failed", "mm_id", rt.mm.MMID, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) quoteOneMarket(ctx context.Context, rt *mmRuntime) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	st, ok := e.inv.Snapshot(rt.mm.MMID)
	if !ok {
		st = rt.mm.State
	}
	if st.Paused {
		return nil
	}
	if !st.VolatilityPauseUntil.IsZero() && time.Now().Before(st.VolatilityPauseUntil) {
		return nil
	}
	if time.Until(rt.market.EndTime) < time.Duration(rt.mm.Config.MinTimeToResolutionHours*float64(time.Hour)) {
		return nil
	}

	adapter, err := e.registry.Get(rt.venueID)
	if err != nil {
		return fmt.Errorf("quote cycle: %w", err)
	}

	yesIn, yesOK := e.outcomeInputs(ctx, adapter, rt, mmtypes.Yes, st)
	noIn, noOK := e.outcomeInputs(ctx, adapter, rt, mmtypes.No, st)
	if !yesOK || !noOK {
		return nil
	}

	yesQuotes := quote.Compute(quoteInputs(rt, mmtypes.Yes, st, yesIn))
	noQuotes := quote.Compute(quoteInputs(rt, mmtypes.No, st, noIn))

	yesSanity := sanityInputs(yesIn, rt.market.YesMid, yesQuotes)
	noSanity := sanityInputs(noIn, rt.market.NoMid, noQuotes)

	age := time.Since(rt.market.UpdatedAt)
	passed, reason := sanity.RunCycle(age, yesSanity, noSanity)

	rt.market.YesMid = yesIn.mid
	rt.market.NoMid = noIn.mid
	rt.market.UpdatedAt = time.Now()

	if !passed {
		e.emitEvent(mmtypes.EventSanityCheckFailed, rt.mm.MMID, reason, nil)
		return nil
	}

	desired := desiredOrders(rt, yesQuotes, mmtypes.Yes)
	for k, v := range desiredOrders(rt, noQuotes, mmtypes.No) {
		desired[k] = v
	}

	tracked, err := e.store.ListTrackedOrders(rt.mm.MMID)
	if err != nil {
		return fmt.Errorf("quote cycle: list tracked orders: %w", err)
	}

	tick := rt.grid.TickSize(rt.market.YesMid)
	halfTick := tick.Div(decimal.NewFromInt(2))
	plan := dispatch.Diff(desired, tracked, halfTick)

	e.executeCancels(ctx, adapter, rt, plan.Cancel)
	e.executePlacements(ctx, adapter, rt, plan.Place)

	if plan.Changed() {
		rt.mm.State.LastQuoteAt = time.Now()
		if err := e.store.UpsertMarketMaker(rt.mm); err != nil {
			e.logger.Error("persist last_quote_at failed", "mm_id", rt.mm.MMID, "error", err)
		}
	}

	e.reportRisk(rt, st, yesIn, noIn)
	return nil
}

// outcomeSide bundles one outcome's fetched book/inventory context.
type outcomeSide struct {
	mid     decimal.Decimal
	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	spread  decimal.Decimal
}

// outcomeInputs fetches Midpoint and Best for one outcome concurrently.
// The spread is derived as best ask minus best bid; the venue's spread RPC
// is not called and no book snapshot is fetched here.
func (e *Engine) outcomeInputs(ctx context.Context, adapter venue.Adapter, rt *mmRuntime, outcome mmtypes.Outcome, _ mmtypes.MMState) (outcomeSide, bool) {
	tokenID := rt.tokenFor(outcome)

	var mid decimal.Decimal
	var bid, ask decimal.Decimal
	var midErr, bestErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		mid, midErr = adapter.Midpoint(ctx, tokenID)
	}()
	go func() {
		defer wg.Done()
		bid, ask, bestErr = adapter.Best(ctx, tokenID)
	}()
	wg.Wait()

	if midErr != nil || bestErr != nil {
		e.logger.Warn("quote cycle: book fetch failed", "mm_id", rt.mm.MMID, "outcome", outcome, "mid_err", midErr, "best_err", bestErr)
		return outcomeSide{}, false
	}

	return outcomeSide{mid: mid, bestBid: bid, bestAsk: ask, spread: ask.Sub(bid)}, true
}

func quoteInputs(rt *mmRuntime, outcome mmtypes.Outcome, st mmtypes.MMState, side outcomeSide) quote.Inputs {
	inv := st.YesInventory
	avg := st.AvgYesCost
	if outcome == mmtypes.No {
		inv = st.NoInventory
		avg = st.AvgNoCost
	}

	multiplier := rt.flowFor(outcome).GetSpreadMultiplier()
	targetSpread := rt.mm.Config.TargetSpread.Mul(decimal.NewFromFloat(multiplier))

	var avgPtr *decimal.Decimal
	if avg.IsPositive() {
		a := avg
		avgPtr = &a
	}

	bid, ask := side.bestBid, side.bestAsk

	return quote.Inputs{
		Mid:            side.mid,
		TargetSpread:   targetSpread,
		Inventory:      inv,
		SkewFactor:     rt.mm.Config.SkewFactor,
		OrderSize:      rt.mm.Config.OrderSize,
		MaxInventory:   rt.mm.Config.MaxInventory,
		Grid:           rt.grid,
		MinPrice:       rt.grid.Min,
		MaxPrice:       rt.grid.Max,
		Policy:         rt.mm.Config.QuotingPolicy,
		BestBid:        &bid,
		BestAsk:        &ask,
		AvgCost:        avgPtr,
		BidOffsetTicks: rt.mm.Config.BidOffsetTicks,
		AskOffsetTicks: rt.mm.Config.AskOffsetTicks,
		Tiers:          rt.mm.Config.Tiers,
	}
}

func sanityInputs(side outcomeSide, storedMid decimal.Decimal, q quote.Quotes) sanity.OutcomeInputs {
	in := sanity.OutcomeInputs{
		AuthoritativeMid: side.mid,
		BestBid:          side.bestBid,
		BestAsk:          side.bestAsk,
		CurrentSpread:    side.spread,
		StoredMid:        storedMid,
	}
	if q.Bid != nil {
		p := q.Bid.Price
		in.DesiredBid = &p
	}
	if q.Ask != nil {
		p := q.Ask.Price
		in.DesiredAsk = &p
	}
	return in
}

// desiredOrders flattens one outcome's Quotes into the dispatch layer's
// keyed desired-order map, expanding PolicyTiered's ladder into one entry
// per tier.
func desiredOrders(rt *mmRuntime, q quote.Quotes, outcome mmtypes.Outcome) map[mmtypes.OrderKey]dispatch.DesiredOrder {
	out := make(map[mmtypes.OrderKey]dispatch.DesiredOrder)
	tokenID := rt.tokenFor(outcome)

	if len(q.BidLevels) > 0 || len(q.AskLevels) > 0 {
		for i, lvl := range q.BidLevels {
			out[mmtypes.OrderKey{MMID: rt.mm.MMID, Outcome: outcome, Side: mmtypes.Buy, Tier: i}] =
				dispatch.DesiredOrder{TokenID: tokenID, Price: lvl.Price, Size: lvl.Size}
		}
		for i, lvl := range q.AskLevels {
			out[mmtypes.OrderKey{MMID: rt.mm.MMID, Outcome: outcome, Side: mmtypes.Sell, Tier: i}] =
				dispatch.DesiredOrder{TokenID: tokenID, Price: lvl.Price, Size: lvl.Size}
		}
		return out
	}

	if q.Bid != nil {
		out[mmtypes.OrderKey{MMID: rt.mm.MMID, Outcome: outcome, Side: mmtypes.Buy}] =
			dispatch.DesiredOrder{TokenID: tokenID, Price: q.Bid.Price, Size: q.Bid.Size}
	}
	if q.Ask != nil {
		out[mmtypes.OrderKey{MMID: rt.mm.MMID, Outcome: outcome, Side: mmtypes.Sell}] =
			dispatch.DesiredOrder{TokenID: tokenID, Price: q.Ask.Price, Size: q.Ask.Size}
	}
	return out
}

func (e *Engine) executeCancels(ctx context.Context, adapter venue.Adapter, rt *mmRuntime, cancel []mmtypes.TrackedOrder) {
	if len(cancel) == 0 {
		return
	}
	ids := make([]string, len(cancel))
	for i, o := range cancel {
		ids[i] = o.OrderID
	}
	for _, batch := range dispatch.Batch(ids, dispatch.MaxBatchSize) {
		for _, id := range batch {
			if err := adapter.CancelOrder(ctx, id); err != nil {
				e.logger.Error("cancel order failed", "mm_id", rt.mm.MMID, "order_id", id, "error", err)
				continue
			}
			e.store.DeleteTrackedOrder(id)
			e.emitEvent(mmtypes.EventQuoteCancelled, rt.mm.MMID, id, nil)
		}
	}
}

func (e *Engine) executePlacements(ctx context.Context, adapter venue.Adapter, rt *mmRuntime, place map[mmtypes.OrderKey]dispatch.DesiredOrder) {
	if len(place) == 0 {
		return
	}

	keys := make([]mmtypes.OrderKey, 0, len(place))
	for k := range place {
		keys = append(keys, k)
	}

	const batchSize = dispatch.MaxBatchSize
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		reqs := make([]venue.PlaceOrderRequest, len(batch))
		for j, k := range batch {
			d := place[k]
			reqs[j] = venue.PlaceOrderRequest{
				TokenID:     d.TokenID,
				Side:        k.Side,
				Price:       d.Price,
				Size:        d.Size,
				TimeInForce: mmtypes.GTC,
				PostOnly:    true,
			}
		}

		results, err := adapter.PlaceOrders(ctx, reqs)
		if err != nil {
			e.logger.Error("place orders batch failed", "mm_id", rt.mm.MMID, "error", err)
			continue
		}

		for j, res := range results {
			k := batch[j]
			d := place[k]
			if res.Err != nil || !res.Success {
				e.logger.Error("place order failed", "mm_id", rt.mm.MMID, "key", k, "error", res.Err)
				continue
			}
			tracked := mmtypes.TrackedOrder{
				Key:      k,
				OrderID:  res.OrderID,
				TokenID:  d.TokenID,
				Price:    d.Price,
				Size:     d.Size,
				PlacedAt: time.Now(),
			}
			if err := e.store.UpsertTrackedOrder(rt.mm.MMID, tracked); err != nil {
				e.logger.Error("persist tracked order failed", "mm_id", rt.mm.MMID, "order_id", res.OrderID, "error", err)
			}
			e.emitEvent(mmtypes.EventQuotePlaced, rt.mm.MMID, res.OrderID, nil)
		}
	}
}

func (e *Engine) reportRisk(rt *mmRuntime, st mmtypes.MMState, yes, no outcomeSide) {
	exposure := st.YesInventory.Mul(yes.mid).Add(st.NoInventory.Mul(no.mid))
	unrealized := st.YesInventory.Mul(yes.mid.Sub(st.AvgYesCost)).
		Add(st.NoInventory.Mul(no.mid.Sub(st.AvgNoCost)))

	e.riskMgr.Report(risk.PositionReport{
		MarketID:      rt.market.MarketID,
		YesQty:        st.YesInventory,
		NoQty:         st.NoInventory,
		MidPrice:      yes.mid,
		ExposureUSD:   exposure,
		UnrealizedPnL: unrealized,
		RealizedPnL:   st.RealizedPnL,
		Timestamp:     time.Now(),
	})
}
