// Package quote implements the Quote Calculator (§4.4): a pure function
// from market state and MM configuration to a desired bid/ask pair. It
// performs no I/O and holds no locks — callers own concurrency.
package quote

import (
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/pricegrid"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

var (
	half        = decimal.NewFromFloat(0.5)
	reduceBand  = decimal.NewFromFloat(0.9)
	one         = decimal.NewFromInt(1)
	negOne      = decimal.NewFromInt(-1)
	three       = decimal.NewFromInt(3)
)

// Inputs mirrors §4.4's parameter list exactly.
type Inputs struct {
	Mid           decimal.Decimal
	TargetSpread  decimal.Decimal
	Inventory     decimal.Decimal
	SkewFactor    decimal.Decimal
	OrderSize     decimal.Decimal
	MaxInventory  decimal.Decimal
	Grid          pricegrid.Grid
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	Policy        mmtypes.QuotingPolicy
	BestBid       *decimal.Decimal
	BestAsk       *decimal.Decimal
	AvgCost       *decimal.Decimal
	BidOffsetTicks int
	AskOffsetTicks int
	Tiers          []mmtypes.TierWeight // only consulted when Policy == PolicyTiered
}

// Level is one priced, sized order the Dispatch layer should place.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Quotes is the desired two-sided output of Compute.
type Quotes struct {
	Bid        *Level
	Ask        *Level
	BidLevels  []Level // populated only for PolicyTiered
	AskLevels  []Level
	InvNorm    decimal.Decimal
	ReduceOnly bool
}

// Compute implements §4.4 steps 1-6 exactly.
func Compute(in Inputs) Quotes {
	invNorm := clampUnit(safeDiv(in.Inventory, in.MaxInventory))
	skew := in.SkewFactor.Mul(invNorm)

	bid := in.Mid.Sub(in.TargetSpread.Div(decimal.NewFromInt(2))).Sub(skew)
	ask := in.Mid.Add(in.TargetSpread.Div(decimal.NewFromInt(2))).Sub(skew)

	tick := in.Grid.TickSize(in.Mid)
	bid, ask = applyPolicy(in, bid, ask, tick)

	bid = in.Grid.Quantize(bid, mmtypes.Floor)
	ask = in.Grid.Quantize(ask, mmtypes.Ceil)
	bid = clampRange(bid, in.MinPrice, in.MaxPrice)
	ask = clampRange(ask, in.MinPrice, in.MaxPrice)
	if !ask.GreaterThan(bid) {
		ask = bid.Add(tick)
	}

	reduceOnly := invNorm.Abs().GreaterThanOrEqual(reduceBand)

	bidSize, askSize := sizes(in, invNorm)

	q := Quotes{InvNorm: invNorm, ReduceOnly: reduceOnly}
	if bidSize.GreaterThan(decimal.Zero) {
		q.Bid = &Level{Price: bid, Size: bidSize}
	}
	if askSize.GreaterThan(decimal.Zero) {
		q.Ask = &Level{Price: ask, Size: askSize}
	}

	if in.Policy == mmtypes.PolicyTiered {
		q.BidLevels = distributeTiers(bid, bidSize, tick, in.Tiers, true)
		q.AskLevels = distributeTiers(ask, askSize, tick, in.Tiers, false)
	}

	return q
}

// applyPolicy implements §4.4 step 3.
func applyPolicy(in Inputs, bid, ask, tick decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch in.Policy {
	case mmtypes.PolicyTouch:
		bid, ask = touchPolicy(in, bid, ask)
	case mmtypes.PolicyInside:
		if in.BestBid != nil && in.BestAsk != nil && in.BestAsk.Sub(*in.BestBid).GreaterThan(tick) {
			if bid.LessThan(in.BestBid.Add(tick)) {
				bid = in.BestBid.Add(tick)
			}
			if ask.GreaterThan(in.BestAsk.Sub(tick)) {
				ask = in.BestAsk.Sub(tick)
			}
		} else {
			bid, ask = touchPolicy(in, bid, ask)
		}
	case mmtypes.PolicyBack:
		// leave as-is
	case mmtypes.PolicyDefensive:
		if in.BestBid != nil && bid.GreaterThan(*in.BestBid) {
			bid = *in.BestBid
		}
		if in.BestAsk != nil {
			ask = *in.BestAsk
		}
		if in.AvgCost != nil && in.AvgCost.GreaterThan(decimal.Zero) {
			floor := in.AvgCost.Add(tick)
			if ask.LessThan(floor) {
				ask = floor
			}
		}
	case mmtypes.PolicyOffsets, mmtypes.PolicyTiered:
		if in.BestBid != nil {
			bid = in.BestBid.Sub(tick.Mul(decimal.NewFromInt(int64(in.BidOffsetTicks))))
		}
		if in.BestAsk != nil {
			ask = in.BestAsk.Add(tick.Mul(decimal.NewFromInt(int64(in.AskOffsetTicks))))
		}
	}

	if in.AvgCost != nil && in.AvgCost.GreaterThan(decimal.Zero) {
		floor := in.AvgCost.Add(tick)
		if ask.LessThan(floor) {
			ask = floor
		}
	}
	return bid, ask
}

func touchPolicy(in Inputs, bid, ask decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if in.BestBid != nil && bid.GreaterThan(*in.BestBid) {
		bid = *in.BestBid
	}
	if in.BestAsk != nil && ask.LessThan(*in.BestAsk) {
		ask = *in.BestAsk
	}
	return bid, ask
}

// sizes implements §4.4 step 6.
func sizes(in Inputs, invNorm decimal.Decimal) (bidSize, askSize decimal.Decimal) {
	bidSize = in.OrderSize
	if in.Inventory.LessThanOrEqual(decimal.Zero) {
		askSize = decimal.Zero
	} else {
		askSize = decimal.Min(in.Inventory, decimal.Max(three.Mul(in.OrderSize), in.Inventory.Div(decimal.NewFromInt(2))))
	}
	if invNorm.GreaterThanOrEqual(reduceBand) {
		bidSize = decimal.Zero
	}
	if invNorm.LessThanOrEqual(negOne.Mul(reduceBand)) {
		askSize = decimal.Zero
	}
	return bidSize, askSize
}

// distributeTiers spreads a side's total size over a configured list of
// offsets with share weights summing to 1 (§4.4 "Tiered variant").
func distributeTiers(basePrice, totalSize, tick decimal.Decimal, tiers []mmtypes.TierWeight, isBid bool) []Level {
	if totalSize.LessThanOrEqual(decimal.Zero) || len(tiers) == 0 {
		return nil
	}
	levels := make([]Level, 0, len(tiers))
	for _, tr := range tiers {
		offset := tick.Mul(decimal.NewFromInt(int64(tr.OffsetTicks)))
		price := basePrice.Sub(offset)
		if !isBid {
			price = basePrice.Add(offset)
		}
		levels = append(levels, Level{Price: price, Size: totalSize.Mul(tr.Share)})
	}
	return levels
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

func clampUnit(v decimal.Decimal) decimal.Decimal {
	return clampRange(v, negOne, one)
}

func clampRange(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
