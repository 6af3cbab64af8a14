package dispatch

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func yesBidKey() mmtypes.OrderKey {
	return mmtypes.OrderKey{MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy, Tier: 0}
}

// Scenario 6 (§8): order diff keep-at-price.
func TestScenarioKeepAtPrice(t *testing.T) {
	t.Parallel()

	key := yesBidKey()
	tracked := []mmtypes.TrackedOrder{
		{Key: key, OrderID: "venue-order-1", Price: dec("0.47"), Size: dec("10")},
	}
	desired := map[mmtypes.OrderKey]DesiredOrder{
		key: {Price: dec("0.47"), Size: dec("10")},
	}

	plan := Diff(desired, tracked, dec("0.005"))

	if len(plan.Cancel) != 0 {
		t.Errorf("cancels = %d, want 0", len(plan.Cancel))
	}
	if len(plan.Place) != 0 {
		t.Errorf("places = %d, want 0", len(plan.Place))
	}
	if len(plan.Kept) != 1 || plan.Kept[0].OrderID != "venue-order-1" {
		t.Errorf("kept order should retain venue id, got %+v", plan.Kept)
	}
}

func TestDiffCancelsStaleAndPlacesNew(t *testing.T) {
	t.Parallel()

	staleKey := mmtypes.OrderKey{MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy, Tier: 0}
	newKey := mmtypes.OrderKey{MMID: "mm1", Outcome: mmtypes.No, Side: mmtypes.Sell, Tier: 0}

	tracked := []mmtypes.TrackedOrder{
		{Key: staleKey, OrderID: "stale-1", Price: dec("0.40"), Size: dec("10")},
	}
	desired := map[mmtypes.OrderKey]DesiredOrder{
		staleKey: {Price: dec("0.47"), Size: dec("10")}, // moved too far, not kept
		newKey:   {Price: dec("0.53"), Size: dec("5")},
	}

	plan := Diff(desired, tracked, dec("0.005"))

	if len(plan.Cancel) != 1 || plan.Cancel[0].OrderID != "stale-1" {
		t.Errorf("expected stale-1 cancelled, got %+v", plan.Cancel)
	}
	if len(plan.Place) != 2 {
		t.Errorf("expected both keys placed (stale moved + new), got %d", len(plan.Place))
	}
}

func TestChangedReflectsKeptOrPlaced(t *testing.T) {
	t.Parallel()

	empty := Plan{Place: map[mmtypes.OrderKey]DesiredOrder{}}
	if empty.Changed() {
		t.Error("empty plan should report Changed() = false")
	}

	withKept := Plan{Kept: []mmtypes.TrackedOrder{{}}}
	if !withKept.Changed() {
		t.Error("plan with kept orders should report Changed() = true")
	}
}

func TestBatchSplitsAtMaxSize(t *testing.T) {
	t.Parallel()

	ids := make([]string, 32)
	for i := range ids {
		ids[i] = "id"
	}
	batches := Batch(ids, MaxBatchSize)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 32 ids at size 15, got %d", len(batches))
	}
	if len(batches[0]) != 15 || len(batches[2]) != 2 {
		t.Errorf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}
