package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/inventory"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func startInventory(t *testing.T) *inventory.Actor {
	t.Helper()
	a := inventory.New(nopLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a
}

func TestFastSyncOverwritesWhenNoLivePending(t *testing.T) {
	t.Parallel()

	inv := startInventory(t)
	inv.Register("mm1", mmtypes.MMState{YesInventory: dec("5"), AvgYesCost: dec("0.40")})

	syncer := NewFastSyncer(nopLogger(), inv)
	positions := map[string][]OutcomePosition{
		"mm1": {{Outcome: mmtypes.Yes, AuthoritativePosition: mmtypes.AuthoritativePosition{Size: dec("5.2"), AvgPrice: dec("0.41")}}},
	}
	noPending := func(string, mmtypes.Outcome) bool { return false }

	syncer.Sync(context.Background(), positions, noPending)

	st, _ := inv.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("5.2")) {
		t.Errorf("yes_inventory = %s, want 5.2 (overwrite should proceed with no live pending)", st.YesInventory)
	}
}

func TestFastSyncGatesOverwriteOnDisagreementWithLivePending(t *testing.T) {
	t.Parallel()

	inv := startInventory(t)
	inv.Register("mm1", mmtypes.MMState{YesInventory: dec("5"), AvgYesCost: dec("0.40")})

	syncer := NewFastSyncer(nopLogger(), inv)
	hasPending := func(string, mmtypes.Outcome) bool { return true }
	noPending := func(string, mmtypes.Outcome) bool { return false }

	// first snapshot: no prior snapshot recorded yet, so "agrees" is
	// false; with no pending fill outstanding the overwrite proceeds and
	// records 50 as the previous snapshot.
	first := map[string][]OutcomePosition{
		"mm1": {{Outcome: mmtypes.Yes, AuthoritativePosition: mmtypes.AuthoritativePosition{Size: dec("50"), AvgPrice: dec("0.45")}}},
	}
	syncer.Sync(context.Background(), first, noPending)

	// second snapshot disagrees wildly with the first and a pending
	// fill is outstanding -- overwrite must be gated (skipped).
	second := map[string][]OutcomePosition{
		"mm1": {{Outcome: mmtypes.Yes, AuthoritativePosition: mmtypes.AuthoritativePosition{Size: dec("90"), AvgPrice: dec("0.60")}}},
	}
	syncer.Sync(context.Background(), second, hasPending)

	st, _ := inv.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("50")) {
		t.Errorf("yes_inventory = %s, want 50 (second disagreeing snapshot with a live pending fill should be gated)", st.YesInventory)
	}
}

// Scenario 9 (§8): terminal order with unrecorded fills.
func TestScenarioTerminalOrderBackfillsFill(t *testing.T) {
	t.Parallel()

	order := mmtypes.TrackedOrder{
		Key:             mmtypes.OrderKey{MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy},
		OrderID:         "order-9",
		LastMatchedSize: dec("3"),
	}

	lookup := func(ctx context.Context, orderID string) (string, decimal.Decimal, bool, error) {
		return "MATCHED", dec("10"), true, nil
	}

	var backfilledDelta decimal.Decimal
	applier := func(o mmtypes.TrackedOrder, delta decimal.Decimal, src inventory.FillSource) error {
		backfilledDelta = delta
		return nil
	}

	// another order is open, so the pass is not defensively skipped
	result := OrdersPass(context.Background(), []mmtypes.TrackedOrder{order}, map[string]bool{"other-open-order": true}, lookup, applier, nopLogger())

	if !backfilledDelta.Equal(dec("7")) {
		t.Errorf("backfilled delta = %s, want 7 (10 matched - 3 already recorded)", backfilledDelta)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != "order-9" {
		t.Errorf("expected order-9 deleted after terminal backfill, got %+v", result.Deleted)
	}
	if result.FillsBackfilled != 1 {
		t.Errorf("FillsBackfilled = %d, want 1", result.FillsBackfilled)
	}
}

func TestOrdersPassSkipsOnEmptyOpenOrdersDefensively(t *testing.T) {
	t.Parallel()

	order := mmtypes.TrackedOrder{OrderID: "order-1", Key: mmtypes.OrderKey{MMID: "mm1"}}
	called := false
	lookup := func(context.Context, string) (string, decimal.Decimal, bool, error) {
		called = true
		return "", decimal.Zero, false, nil
	}

	result := OrdersPass(context.Background(), []mmtypes.TrackedOrder{order}, map[string]bool{}, lookup, nil, nopLogger())

	if !result.Skipped {
		t.Fatal("expected defensive skip when venue returns zero open orders against nonzero tracked orders")
	}
	if called {
		t.Error("lookup should not be called when the pass is defensively skipped")
	}
}

func TestOrdersPassKeepsLiveButMissingOrder(t *testing.T) {
	t.Parallel()

	order := mmtypes.TrackedOrder{OrderID: "order-2", Key: mmtypes.OrderKey{MMID: "mm1"}}
	lookup := func(context.Context, string) (string, decimal.Decimal, bool, error) {
		return "LIVE", decimal.Zero, true, nil
	}

	// another order is open, so the pass is not defensively skipped
	result := OrdersPass(context.Background(), []mmtypes.TrackedOrder{order}, map[string]bool{"other-open-order": true}, lookup, nil, nopLogger())

	if len(result.Deleted) != 0 {
		t.Errorf("LIVE order should not be deleted, got deleted=%v", result.Deleted)
	}
	if len(result.KeptWarned) != 1 {
		t.Errorf("expected order-2 in KeptWarned, got %+v", result.KeptWarned)
	}
}

func TestResetToChainRequiresMatchingToken(t *testing.T) {
	t.Parallel()

	inv := startInventory(t)
	clear := func(context.Context) error { return nil }

	err := ResetToChain(context.Background(), "expected-token", "wrong-token", inv, nil, clear, nopLogger())
	if !errors.Is(err, errBadConfirmation) {
		t.Fatalf("expected confirmation mismatch error, got %v", err)
	}
}

func TestResetToChainOverwritesAndClears(t *testing.T) {
	t.Parallel()

	inv := startInventory(t)
	inv.Register("mm1", mmtypes.MMState{YesInventory: dec("99")})

	cleared := false
	clear := func(context.Context) error {
		cleared = true
		return nil
	}

	positions := map[string][]OutcomePosition{
		"mm1": {{Outcome: mmtypes.Yes, AuthoritativePosition: mmtypes.AuthoritativePosition{Size: dec("1"), AvgPrice: dec("0.5")}}},
	}

	err := ResetToChain(context.Background(), "tok", "tok", inv, positions, clear, nopLogger())
	if err != nil {
		t.Fatalf("ResetToChain failed: %v", err)
	}
	if !cleared {
		t.Fatal("expected clearTrackedOrders to be called")
	}
	st, _ := inv.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("1")) {
		t.Errorf("yes_inventory = %s, want 1", st.YesInventory)
	}
}
