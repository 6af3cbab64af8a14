// Package pricegrid implements per-market tick-size lookup and quantisation
// over piecewise price ranges. Generalized from the teacher's fixed
// TickSize enum (which only expressed four global grids) into an
// arbitrary, per-market ordered range table, since a single binary market
// can define its own custom grid.
package pricegrid

import (
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// DefaultStep is used when a price falls outside every configured range.
var DefaultStep = decimal.NewFromFloat(0.01)

// DefaultMin and DefaultMax bound prices before quantisation.
var (
	DefaultMin = decimal.NewFromFloat(0.01)
	DefaultMax = decimal.NewFromFloat(0.99)
)

// Grid resolves tick size and performs quantisation for one market's
// optional piecewise range schedule.
type Grid struct {
	Ranges []mmtypes.PriceRange
	Min    decimal.Decimal
	Max    decimal.Decimal
}

// New builds a Grid. A nil or empty ranges slice means "use DefaultStep
// everywhere."
func New(ranges []mmtypes.PriceRange) Grid {
	return Grid{Ranges: ranges, Min: DefaultMin, Max: DefaultMax}
}

// TickSize returns the step of the range containing p, or DefaultStep if p
// falls in no configured range.
func (g Grid) TickSize(p decimal.Decimal) decimal.Decimal {
	for _, r := range g.Ranges {
		if p.GreaterThanOrEqual(r.Start) && p.LessThanOrEqual(r.End) {
			return r.Step
		}
	}
	return DefaultStep
}

// Quantize clamps p into [Min, Max] and snaps it to its tick grid according
// to mode. Quantize is idempotent on any grid-aligned input: quantizing an
// already-aligned price returns it unchanged (modulo the clamp).
func (g Grid) Quantize(p decimal.Decimal, mode mmtypes.QuantizeMode) decimal.Decimal {
	clamped := clamp(p, g.Min, g.Max)
	step := g.TickSize(clamped)
	if step.IsZero() {
		return clamped
	}

	ticks := clamped.Div(step)
	var rounded decimal.Decimal
	switch mode {
	case mmtypes.Floor:
		rounded = ticks.Floor()
	case mmtypes.Ceil:
		rounded = ticks.Ceil()
	default: // mmtypes.Round
		rounded = ticks.Round(0)
	}
	return rounded.Mul(step)
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
