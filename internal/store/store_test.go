package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedMarketMaker inserts the market and market-maker rows that the mm_id
// foreign keys of tracked_orders, fills, pending_fill_events and
// quote_history reference.
func seedMarketMaker(t *testing.T, s *Store, mmID string) {
	t.Helper()
	if err := s.UpsertMarket(mmtypes.Market{MarketID: "mkt-1", Venue: "polyclob", Active: true}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	mm := mmtypes.MarketMaker{MMID: mmID, Market: "mkt-1", State: mmtypes.MMState{Active: true}}
	if err := s.UpsertMarketMaker(mm); err != nil {
		t.Fatalf("UpsertMarketMaker: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate call failed: %v", err)
	}
}

func TestTrackedOrderRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	seedMarketMaker(t, s, "mm-1")

	order := mmtypes.TrackedOrder{
		Key:      mmtypes.OrderKey{MMID: "mm-1", Outcome: mmtypes.Yes, Side: mmtypes.Buy, Tier: 0},
		OrderID:  "ord-1",
		TokenID:  "token-yes",
		Price:    decimal.NewFromFloat(0.45),
		Size:     decimal.NewFromInt(100),
		PlacedAt: time.Now(),
	}
	if err := s.UpsertTrackedOrder("mm-1", order); err != nil {
		t.Fatalf("UpsertTrackedOrder: %v", err)
	}

	got, ok := s.GetTrackedOrder("ord-1")
	if !ok {
		t.Fatal("expected tracked order to be found")
	}
	if !got.Price.Equal(order.Price) || !got.Size.Equal(order.Size) {
		t.Errorf("round-tripped order = %+v, want price %s size %s", got, order.Price, order.Size)
	}

	s.UpdateMatched("ord-1", decimal.NewFromInt(40))
	got, _ = s.GetTrackedOrder("ord-1")
	if !got.LastMatchedSize.Equal(decimal.NewFromInt(40)) || !got.HasMatched {
		t.Errorf("expected matched size 40 and has_matched true, got %+v", got)
	}

	s.DeleteTrackedOrder("ord-1")
	if _, ok := s.GetTrackedOrder("ord-1"); ok {
		t.Error("expected tracked order to be gone after delete")
	}
}

func TestListAndClearTrackedOrders(t *testing.T) {
	s := setupTestStore(t)
	seedMarketMaker(t, s, "mm-1")

	for i := 0; i < 3; i++ {
		order := mmtypes.TrackedOrder{
			Key:      mmtypes.OrderKey{MMID: "mm-1", Outcome: mmtypes.Yes, Side: mmtypes.Buy, Tier: i},
			OrderID:  "ord-" + string(rune('a'+i)),
			TokenID:  "token-yes",
			Price:    decimal.NewFromFloat(0.4),
			Size:     decimal.NewFromInt(10),
			PlacedAt: time.Now(),
		}
		if err := s.UpsertTrackedOrder("mm-1", order); err != nil {
			t.Fatalf("UpsertTrackedOrder: %v", err)
		}
	}

	orders, err := s.ListTrackedOrders("mm-1")
	if err != nil {
		t.Fatalf("ListTrackedOrders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("len(orders) = %d, want 3", len(orders))
	}

	if err := s.ClearTrackedOrders("mm-1"); err != nil {
		t.Fatalf("ClearTrackedOrders: %v", err)
	}
	orders, err = s.ListTrackedOrders("mm-1")
	if err != nil {
		t.Fatalf("ListTrackedOrders after clear: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("len(orders) after clear = %d, want 0", len(orders))
	}
}

func TestPendingFillEventLifecycleAndIdempotency(t *testing.T) {
	s := setupTestStore(t)
	seedMarketMaker(t, s, "mm-1")

	ev := mmtypes.PendingFillEvent{
		OrderID:      "ord-1",
		MatchedTotal: decimal.NewFromInt(10),
		MMID:         "mm-1",
		Outcome:      mmtypes.Yes,
		Side:         mmtypes.Buy,
		Price:        decimal.NewFromFloat(0.5),
		Delta:        decimal.NewFromInt(10),
		Status:       mmtypes.PendingStatusPending,
	}
	if err := s.InsertPendingFillEvent(ev); err != nil {
		t.Fatalf("InsertPendingFillEvent: %v", err)
	}

	if !s.HasLivePending("mm-1", mmtypes.Yes) {
		t.Error("expected a live pending fill event")
	}

	// Duplicate insert (same order_id+matched_total) is a no-op, not an error.
	if err := s.InsertPendingFillEvent(ev); err != nil {
		t.Fatalf("duplicate InsertPendingFillEvent errored: %v", err)
	}

	if err := s.ResolvePendingFillEvent("ord-1", decimal.NewFromInt(10), mmtypes.PendingStatusConfirmed); err != nil {
		t.Fatalf("ResolvePendingFillEvent: %v", err)
	}
	if s.HasLivePending("mm-1", mmtypes.Yes) {
		t.Error("expected no live pending fill event after resolution")
	}
}

func TestRecordFillAndQuoteEvent(t *testing.T) {
	s := setupTestStore(t)
	seedMarketMaker(t, s, "mm-1")

	fill := mmtypes.Fill{
		Outcome: mmtypes.Yes, Side: mmtypes.Buy,
		Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromInt(10),
		Value: decimal.NewFromFloat(5), FilledAt: time.Now(),
	}
	if err := s.RecordFill("mm-1", fill); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if err := s.RecordQuoteEvent("mm-1", mmtypes.EventFill, `{"size":"10"}`); err != nil {
		t.Fatalf("RecordQuoteEvent: %v", err)
	}
}

func TestAdvisoryLockMutualExclusionAndRelease(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "full_sync", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v, want true, nil", ok, err)
	}

	// Same holder re-acquiring (renewal) must succeed.
	ok, err = s.TryAcquire(ctx, "full_sync", time.Minute)
	if err != nil || !ok {
		t.Fatalf("renewal TryAcquire = %v, %v, want true, nil", ok, err)
	}

	if err := s.Release(ctx, "full_sync"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = s.TryAcquire(ctx, "full_sync", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire after release = %v, %v, want true, nil", ok, err)
	}
}

func TestAdvisoryLockExpiresAfterTTL(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Simulate a lock held by a different process that has already expired.
	_, err := s.db.Exec(
		`INSERT INTO advisory_locks (job_name, holder, expires_at) VALUES (?, ?, ?)`,
		"inventory_sync", "other-process", time.Now().Add(-time.Minute),
	)
	if err != nil {
		t.Fatalf("seed expired lock: %v", err)
	}

	ok, err := s.TryAcquire(ctx, "inventory_sync", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquire over expired lock = %v, %v, want true, nil", ok, err)
	}
}

func TestMarketMakerRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	if err := s.UpsertMarket(mmtypes.Market{
		MarketID: "mkt-1", Venue: "polyclob", YesTokenID: "y1", NoTokenID: "n1", Active: true,
	}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}

	mm := mmtypes.MarketMaker{
		MMID:   "mm-1",
		Market: "mkt-1",
		Config: mmtypes.MMConfig{
			TargetSpread:  decimal.NewFromFloat(0.02),
			SkewFactor:    decimal.NewFromFloat(0.5),
			OrderSize:     decimal.NewFromInt(100),
			MaxInventory:  decimal.NewFromInt(1000),
			QuotingPolicy: mmtypes.PolicyTouch,
		},
		State: mmtypes.MMState{Active: true, YesInventory: decimal.NewFromInt(50)},
	}
	if err := s.UpsertMarketMaker(mm); err != nil {
		t.Fatalf("UpsertMarketMaker: %v", err)
	}

	got, ok, err := s.GetMarketMaker("mm-1")
	if err != nil || !ok {
		t.Fatalf("GetMarketMaker = %v, %v, %v", got, ok, err)
	}
	if !got.State.YesInventory.Equal(decimal.NewFromInt(50)) {
		t.Errorf("YesInventory = %s, want 50", got.State.YesInventory)
	}

	ids, err := s.ListActiveMarketMakers()
	if err != nil {
		t.Fatalf("ListActiveMarketMakers: %v", err)
	}
	if len(ids) != 1 || ids[0] != "mm-1" {
		t.Errorf("ListActiveMarketMakers = %v, want [mm-1]", ids)
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	if err := s.UpsertMarket(mmtypes.Market{MarketID: "mkt-1", Venue: "polyclob", Active: true}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}

	c := mmtypes.Candidate{
		MarketID: "mkt-1",
		Scores:   mmtypes.CandidateScores{Total: 72.5, Liquidity: 80, Flow: 60},
		Eligible: true,
	}
	if err := s.UpsertCandidate(c); err != nil {
		t.Fatalf("UpsertCandidate: %v", err)
	}
}
