package quote

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/pricegrid"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseInputs() Inputs {
	return Inputs{
		Mid:          dec("0.50"),
		TargetSpread: dec("0.02"),
		Inventory:    dec("50"),
		SkewFactor:   dec("0.02"),
		OrderSize:    dec("10"),
		MaxInventory: dec("100"),
		Grid:         pricegrid.New(nil),
		MinPrice:     dec("0.01"),
		MaxPrice:     dec("0.99"),
		Policy:       mmtypes.PolicyBack,
	}
}

// Scenario 1 (§8): inventory skew.
func TestScenarioInventorySkew(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	q := Compute(in)

	if !q.InvNorm.Equal(dec("0.5")) {
		t.Errorf("inv_norm = %s, want 0.5", q.InvNorm)
	}
	if q.Bid == nil || !q.Bid.Price.Equal(dec("0.48")) {
		t.Errorf("bid price = %v, want 0.48", q.Bid)
	}
	if q.Ask == nil || !q.Ask.Price.Equal(dec("0.50")) {
		t.Errorf("ask price = %v, want 0.50", q.Ask)
	}
	// Sizing formula (§4.4 step 6): ask_size = min(inventory, max(3*order_size, inventory/2)).
	// min(50, max(30, 25)) = min(50, 30) = 30.
	wantAskSize := decimal.Min(in.Inventory, decimal.Max(dec("3").Mul(in.OrderSize), in.Inventory.Div(dec("2"))))
	if q.Ask == nil || !q.Ask.Size.Equal(wantAskSize) {
		t.Errorf("ask size = %v, want %s", q.Ask, wantAskSize)
	}
	if q.Bid == nil || !q.Bid.Size.Equal(dec("10")) {
		t.Errorf("bid size = %v, want 10", q.Bid)
	}
}

// Scenario 2 (§8): cannot sell what you don't own.
func TestScenarioCannotSellWithoutInventory(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Mid = dec("0.60")
	in.Inventory = decimal.Zero

	q := Compute(in)

	if q.Ask != nil {
		t.Errorf("ask = %v, want nil (ask_size must be 0)", q.Ask)
	}
	if q.Bid == nil || !q.Bid.Size.Equal(in.OrderSize) {
		t.Errorf("bid = %v, want size %s", q.Bid, in.OrderSize)
	}
}

// Scenario 3 (§8): reduce-only at cap.
func TestScenarioReduceOnlyAtCap(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Inventory = dec("95")

	q := Compute(in)

	if !q.InvNorm.Equal(dec("0.95")) {
		t.Errorf("inv_norm = %s, want 0.95", q.InvNorm)
	}
	if !q.ReduceOnly {
		t.Error("reduce_only should be true when |inv_norm| >= 0.9")
	}
	if q.Bid != nil {
		t.Errorf("bid = %v, want nil (bid_size must be 0)", q.Bid)
	}
	if q.Ask == nil || !q.Ask.Size.GreaterThan(decimal.Zero) {
		t.Errorf("ask size should be > 0, got %v", q.Ask)
	}
}

func TestAvgCostNeverSellsBelowCost(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Policy = mmtypes.PolicyBack
	cost := dec("0.51")
	in.AvgCost = &cost

	q := Compute(in)

	if q.Ask == nil || q.Ask.Price.LessThan(cost) {
		t.Errorf("ask price %v should never be below avg cost %s", q.Ask, cost)
	}
}

func TestTouchPolicyRespectsBestBidAsk(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Policy = mmtypes.PolicyTouch
	bb := dec("0.47")
	ba := dec("0.53")
	in.BestBid = &bb
	in.BestAsk = &ba

	q := Compute(in)

	if q.Bid == nil || q.Bid.Price.GreaterThan(bb) {
		t.Errorf("touch policy bid %v should be <= best bid %s", q.Bid, bb)
	}
	if q.Ask == nil || q.Ask.Price.LessThan(ba) {
		t.Errorf("touch policy ask %v should be >= best ask %s", q.Ask, ba)
	}
}

func TestInsideFallsBackToTouchWhenSpreadTooTight(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Policy = mmtypes.PolicyInside
	bb := dec("0.499")
	ba := dec("0.501")
	in.BestBid = &bb
	in.BestAsk = &ba

	q := Compute(in) // spread is narrower than one tick, should fall back to touch behavior
	if q.Bid == nil || q.Bid.Price.GreaterThan(bb) {
		t.Errorf("fallback bid %v should be <= best bid %s", q.Bid, bb)
	}
}

func TestAskAlwaysStrictlyGreaterThanBid(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.TargetSpread = decimal.Zero
	in.SkewFactor = decimal.Zero

	q := Compute(in)
	if q.Bid == nil || q.Ask == nil {
		t.Fatal("expected both sides quoted")
	}
	if !q.Ask.Price.GreaterThan(q.Bid.Price) {
		t.Errorf("ask %s must be strictly greater than bid %s", q.Ask.Price, q.Bid.Price)
	}
}

func TestTieredDistributionSharesSumToTotal(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Policy = mmtypes.PolicyTiered
	in.Tiers = []mmtypes.TierWeight{
		{OffsetTicks: 0, Share: dec("0.5")},
		{OffsetTicks: 1, Share: dec("0.3")},
		{OffsetTicks: 2, Share: dec("0.2")},
	}
	bb := dec("0.47")
	ba := dec("0.53")
	in.BestBid = &bb
	in.BestAsk = &ba

	q := Compute(in)
	if len(q.BidLevels) != 3 {
		t.Fatalf("expected 3 bid tiers, got %d", len(q.BidLevels))
	}
	sum := decimal.Zero
	for _, lvl := range q.BidLevels {
		sum = sum.Add(lvl.Size)
	}
	if q.Bid != nil && !sum.Equal(q.Bid.Size) {
		t.Errorf("tier sizes sum to %s, want %s", sum, q.Bid.Size)
	}
}
