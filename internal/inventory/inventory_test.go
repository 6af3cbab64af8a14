package inventory

import (
	"context"
	"log/slog"
	"testing"
	"time"

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// alwaysMatch always reports a match; used for BUY-path tests where
// verification isn't under test.
type alwaysMatch struct{}

func (alwaysMatch) Verify(string, mmtypes.Outcome, decimal.Decimal) (bool, bool) { return true, false }

// neverMatch reports a mismatch, not degraded — used for Scenario 7.
type neverMatch struct{}

func (neverMatch) Verify(string, mmtypes.Outcome, decimal.Decimal) (bool, bool) { return false, false }

func startActor(t *testing.T, v PositionVerifier) *Actor {
	t.Helper()
	a := New(testLogger(), v)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a
}

func TestApplyFillBuyUpdatesAvgCost(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.40"), Delta: dec("10"),
		OrderID: "o1", MatchedTotal: dec("10"), Source: SourceAuthoritative,
	})
	if !res.Applied {
		t.Fatal("expected fill to apply")
	}

	st, ok := a.Snapshot("mm1")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if !st.YesInventory.Equal(dec("10")) {
		t.Errorf("yes_inventory = %s, want 10", st.YesInventory)
	}
	if !st.AvgYesCost.Equal(dec("0.40")) {
		t.Errorf("avg_yes_cost = %s, want 0.40", st.AvgYesCost)
	}

	// second buy at a different price moves the weighted average
	a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.60"), Delta: dec("10"),
		OrderID: "o2", MatchedTotal: dec("10"), Source: SourceAuthoritative,
	})
	st, _ = a.Snapshot("mm1")
	if !st.AvgYesCost.Equal(dec("0.50")) {
		t.Errorf("avg_yes_cost after second buy = %s, want 0.50", st.AvgYesCost)
	}
	if !st.YesInventory.Equal(dec("20")) {
		t.Errorf("yes_inventory after second buy = %s, want 20", st.YesInventory)
	}
}

func TestApplyFillSellRealizesPnLAndZeroesAvgCostAtZero(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{YesInventory: dec("10"), AvgYesCost: dec("0.40")})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Sell,
		Price: dec("0.55"), Delta: dec("10"),
		OrderID: "o3", MatchedTotal: dec("10"), Source: SourceAuthoritative,
	})
	if !res.Applied {
		t.Fatal("expected sell fill to apply")
	}
	if !res.Fill.RealizedPnLDelta.Equal(dec("1.5")) {
		t.Errorf("realized pnl delta = %s, want 1.5", res.Fill.RealizedPnLDelta)
	}

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.IsZero() {
		t.Errorf("yes_inventory = %s, want 0", st.YesInventory)
	}
	if !st.AvgYesCost.IsZero() {
		t.Errorf("avg_yes_cost should zero out when inventory hits 0, got %s", st.AvgYesCost)
	}
	if !st.RealizedPnL.Equal(dec("1.5")) {
		t.Errorf("realized_pnl = %s, want 1.5", st.RealizedPnL)
	}
}

// Scenario 7 (§8): fill verification reject.
func TestScenarioFillVerificationReject(t *testing.T) {
	t.Parallel()

	a := startActor(t, neverMatch{})
	a.Register("mm1", mmtypes.MMState{})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.45"), Delta: dec("20"),
		OrderID: "push-1", MatchedTotal: dec("20"), Source: SourcePush,
	})
	if res.Applied {
		t.Fatal("expected fill to be rejected, not applied")
	}
	if res.Pending == nil || res.Pending.Status != mmtypes.PendingStatusRejected {
		t.Fatalf("expected a REJECTED PendingFillEvent, got %+v", res.Pending)
	}

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.IsZero() {
		t.Errorf("inventory must be untouched by a rejected fill, got %s", st.YesInventory)
	}
}

// Scenario 8 (§8): pending-fill promotion. The reconciler (not this
// package) decides when a PENDING event has been confirmed by the
// positions feed; once it does, it calls ApplyFill with
// SourceReconcilePromotion, which bypasses verification.
func TestScenarioPendingFillPromotion(t *testing.T) {
	t.Parallel()

	a := startActor(t, neverMatch{}) // cache still disagrees; promotion bypasses it
	a.Register("mm1", mmtypes.MMState{})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.40"), Delta: dec("10"),
		OrderID: "pending-1", MatchedTotal: dec("10"), Source: SourceReconcilePromotion,
	})
	if !res.Applied {
		t.Fatal("expected promoted pending fill to apply")
	}
	if !res.Fill.RealizedPnLDelta.IsZero() {
		t.Errorf("BUY fill should realize zero pnl, got %s", res.Fill.RealizedPnLDelta)
	}

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("10")) {
		t.Errorf("yes_inventory = %s, want 10", st.YesInventory)
	}
}

func TestApplyFillIdempotentOnOrderAndMatchedTotal(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{})

	req := ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.40"), Delta: dec("10"),
		OrderID: "dup-1", MatchedTotal: dec("10"), Source: SourceAuthoritative,
	}
	first := a.ApplyFill(req)
	second := a.ApplyFill(req)

	if !first.Applied {
		t.Fatal("first application should apply")
	}
	if second.Applied {
		t.Fatal("duplicate (order_id, matched_total_after) should be discarded")
	}

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("10")) {
		t.Errorf("yes_inventory = %s, want 10 (replay must not double-apply)", st.YesInventory)
	}
}

func TestInventoryNeverNegative(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{YesInventory: dec("5"), AvgYesCost: dec("0.30")})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Sell,
		Price: dec("0.35"), Delta: dec("20"), // sell more than held
		OrderID: "overfill-1", MatchedTotal: dec("20"), Source: SourceAuthoritative,
	})
	if !res.Applied {
		t.Fatal("expected oversized sell to still apply, clamped at zero")
	}

	st, _ := a.Snapshot("mm1")
	if st.YesInventory.IsNegative() {
		t.Fatalf("yes_inventory must never go negative, got %s", st.YesInventory)
	}
	if !st.YesInventory.IsZero() {
		t.Errorf("yes_inventory = %s, want 0", st.YesInventory)
	}
	if !st.AvgYesCost.IsZero() {
		t.Errorf("avg_yes_cost must be zero once inventory hits zero, got %s", st.AvgYesCost)
	}
}

func TestOverwriteFromChainReplacesState(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{YesInventory: dec("3"), AvgYesCost: dec("0.20")})

	a.OverwriteFromChain("mm1", dec("7"), dec("0.55"), dec("2"), dec("0.33"))

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("7")) || !st.AvgYesCost.Equal(dec("0.55")) {
		t.Errorf("yes side not overwritten: %s @ %s", st.YesInventory, st.AvgYesCost)
	}
	if !st.NoInventory.Equal(dec("2")) || !st.AvgNoCost.Equal(dec("0.33")) {
		t.Errorf("no side not overwritten: %s @ %s", st.NoInventory, st.AvgNoCost)
	}
}

func TestPauseSetsReason(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{})
	a.Pause("mm1", "InvariantViolation: negative inventory observed")

	st, _ := a.Snapshot("mm1")
	if !st.Paused {
		t.Fatal("expected Paused = true")
	}
	if st.PauseReason == "" {
		t.Error("expected a pause reason to be recorded")
	}
}

func TestDegradedVerificationStillApplies(t *testing.T) {
	t.Parallel()

	a := startActor(t, degradedVerifier{})
	a.Register("mm1", mmtypes.MMState{})

	res := a.ApplyFill(ApplyFillRequest{
		MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: dec("0.40"), Delta: dec("5"),
		OrderID: "degraded-1", MatchedTotal: dec("5"), Source: SourcePush,
	})
	if !res.Applied {
		t.Fatal("expected degraded-cache fill to be accepted per §4.7")
	}
}

type degradedVerifier struct{}

func (degradedVerifier) Verify(string, mmtypes.Outcome, decimal.Decimal) (bool, bool) {
	return false, true
}

// sanity check that the actor doesn't deadlock under concurrent senders.
func TestConcurrentApplyFillSerializes(t *testing.T) {
	t.Parallel()

	a := startActor(t, alwaysMatch{})
	a.Register("mm1", mmtypes.MMState{})

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			a.ApplyFill(ApplyFillRequest{
				MMID: "mm1", Outcome: mmtypes.Yes, Side: mmtypes.Buy,
				Price: dec("0.50"), Delta: dec("1"),
				OrderID:      "concurrent",
				MatchedTotal: decimal.NewFromInt(int64(i + 1)),
				Source:       SourceAuthoritative,
			})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent ApplyFill calls")
		}
	}

	st, _ := a.Snapshot("mm1")
	if !st.YesInventory.Equal(dec("20")) {
		t.Errorf("yes_inventory = %s, want 20 after 20 serialized unit buys", st.YesInventory)
	}
}
