// Package dispatch implements Order Diff & Dispatch (§4.6): compares the
// desired quote set against currently tracked live orders and computes the
// minimum cancel+place set that converges state while preserving queue
// priority for orders that are already resting at the right price.
package dispatch

import (
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// MaxBatchSize is the venue RPC batch limit (§4.2, §6).
const MaxBatchSize = 15

// DesiredOrder is one entry of the desired quote set, keyed externally by
// mmtypes.OrderKey.
type DesiredOrder struct {
	TokenID string
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Plan is the computed minimum set of actions for one quote cycle.
type Plan struct {
	Cancel []mmtypes.TrackedOrder
	Place  map[mmtypes.OrderKey]DesiredOrder
	Kept   []mmtypes.TrackedOrder
}

// Changed reports whether this plan produced any kept orders or new
// placements — the condition under which last_quote_at should be bumped
// (§4.6 step 5).
func (p Plan) Changed() bool {
	return len(p.Kept) > 0 || len(p.Place) > 0
}

// Diff implements §4.6 steps 1-2. halfTick is the price-match tolerance;
// callers pass tick/2 for the market's current tick size.
func Diff(desired map[mmtypes.OrderKey]DesiredOrder, tracked []mmtypes.TrackedOrder, halfTick decimal.Decimal) Plan {
	plan := Plan{Place: make(map[mmtypes.OrderKey]DesiredOrder, len(desired))}
	matched := make(map[mmtypes.OrderKey]bool, len(tracked))

	for _, order := range tracked {
		want, exists := desired[order.Key]
		if exists && priceWithinTolerance(order.Price, want.Price, halfTick) {
			plan.Kept = append(plan.Kept, order)
			matched[order.Key] = true
		} else {
			plan.Cancel = append(plan.Cancel, order)
		}
	}

	for key, want := range desired {
		if !matched[key] {
			plan.Place[key] = want
		}
	}

	return plan
}

func priceWithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// Batch splits ids into chunks no larger than MaxBatchSize, for venue RPCs
// that cap batch size (place_orders, cancel_order lists).
func Batch(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
