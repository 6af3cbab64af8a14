// Package sanity implements the Sanity Gate (§4.5): seven independent
// checks run before every quote cycle. Any single failure skips quoting
// for that market this cycle. The gate is total: for any input it returns
// either ok or exactly one reason.
//
// Staleness (check 4) is evaluated once per market, since it reads the
// market's single last-updated timestamp; the remaining six checks are
// evaluated independently per outcome (YES, then NO), and a failure on
// either halts the cycle.
package sanity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	midMin         = 0.05
	midMax         = 0.95
	maxSpreadTicks = 50
	maxStaleAge    = 30 * time.Minute
	maxImprove     = 0.05
	minDeviation   = 0.03
)

var (
	decMidMin     = decimal.NewFromFloat(midMin)
	decMidMax     = decimal.NewFromFloat(midMax)
	decMaxImprove = decimal.NewFromFloat(maxImprove)
	decMinDev     = decimal.NewFromFloat(minDeviation)
	decTwo        = decimal.NewFromInt(2)
	decZero       = decimal.Zero
	decOne        = decimal.NewFromInt(1)
)

// OutcomeInputs bundles everything one outcome's per-outcome checks need.
type OutcomeInputs struct {
	AuthoritativeMid decimal.Decimal
	BestBid          decimal.Decimal
	BestAsk          decimal.Decimal
	SpreadTicks      int
	CurrentSpread    decimal.Decimal // ask - bid, used for the deviation tolerance
	StoredMid        decimal.Decimal
	DesiredBid       *decimal.Decimal
	DesiredAsk       *decimal.Decimal
}

// CheckStaleness is check 4: the stored market price's age must not exceed
// 30 minutes. Evaluated once per market, not per outcome.
func CheckStaleness(age time.Duration) (bool, string) {
	if age > maxStaleAge {
		return false, fmt.Sprintf("Stored price %.0f min old", age.Minutes())
	}
	return true, ""
}

// CheckOutcome runs checks 1, 2, 3, 5, 6, 7 in order for one outcome and
// returns on the first failure.
func CheckOutcome(in OutcomeInputs) (bool, string) {
	if in.AuthoritativeMid.LessThan(decMidMin) || in.AuthoritativeMid.GreaterThan(decMidMax) {
		return false, fmt.Sprintf("Midpoint %s outside [%.2f, %.2f]", in.AuthoritativeMid, midMin, midMax)
	}

	if !in.BestBid.LessThan(in.BestAsk) {
		return false, "crossed book"
	}

	if in.SpreadTicks > maxSpreadTicks {
		return false, fmt.Sprintf("spread %d ticks exceeds max %d", in.SpreadTicks, maxSpreadTicks)
	}

	tolerance := decimal.Max(decMinDev, decTwo.Mul(in.CurrentSpread))
	deviation := in.AuthoritativeMid.Sub(in.StoredMid).Abs()
	if deviation.GreaterThan(tolerance) {
		return false, fmt.Sprintf("mid deviation %s exceeds tolerance %s", deviation, tolerance)
	}

	if in.DesiredBid != nil && in.DesiredBid.GreaterThan(in.BestBid.Add(decMaxImprove)) {
		return false, fmt.Sprintf("desired bid %s improves best bid %s by more than %.2f", in.DesiredBid, in.BestBid, maxImprove)
	}
	if in.DesiredAsk != nil && in.DesiredAsk.LessThan(in.BestAsk.Sub(decMaxImprove)) {
		return false, fmt.Sprintf("desired ask %s improves best ask %s by more than %.2f", in.DesiredAsk, in.BestAsk, maxImprove)
	}

	if in.DesiredBid != nil && (!in.DesiredBid.GreaterThan(decZero) || !in.DesiredBid.LessThan(decOne)) {
		return false, fmt.Sprintf("desired bid %s not strictly in (0, 1)", in.DesiredBid)
	}
	if in.DesiredAsk != nil && (!in.DesiredAsk.GreaterThan(decZero) || !in.DesiredAsk.LessThan(decOne)) {
		return false, fmt.Sprintf("desired ask %s not strictly in (0, 1)", in.DesiredAsk)
	}

	return true, ""
}

// RunCycle runs the full gate for one market: market-level staleness
// first, then YES, then NO. A failure on any check returns its reason,
// prefixed by outcome for the per-outcome checks.
func RunCycle(storedAge time.Duration, yes, no OutcomeInputs) (bool, string) {
	if ok, reason := CheckStaleness(storedAge); !ok {
		return false, reason
	}
	if ok, reason := CheckOutcome(yes); !ok {
		return false, "YES " + reason
	}
	if ok, reason := CheckOutcome(no); !ok {
		return false, "NO " + reason
	}
	return true, ""
}
