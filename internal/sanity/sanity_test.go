package sanity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func healthyOutcome() OutcomeInputs {
	return OutcomeInputs{
		AuthoritativeMid: dec("0.50"),
		BestBid:          dec("0.49"),
		BestAsk:          dec("0.51"),
		SpreadTicks:      2,
		CurrentSpread:    dec("0.02"),
		StoredMid:        dec("0.50"),
	}
}

// Scenario 4 (§8): sanity fail on stale data.
func TestScenarioStaleData(t *testing.T) {
	t.Parallel()

	ok, reason := CheckStaleness(45 * time.Minute)
	if ok {
		t.Fatal("expected staleness failure at 45 minutes")
	}
	if reason != "Stored price 45 min old" {
		t.Errorf("reason = %q, want %q", reason, "Stored price 45 min old")
	}
}

// Scenario 5 (§8): crossed book refusal.
func TestScenarioCrossedBook(t *testing.T) {
	t.Parallel()

	yes := healthyOutcome()
	yes.BestBid = dec("0.55")
	yes.BestAsk = dec("0.54")
	no := healthyOutcome()

	ok, reason := RunCycle(0, yes, no)
	if ok {
		t.Fatal("expected crossed-book failure")
	}
	if reason != "YES crossed book" {
		t.Errorf("reason = %q, want %q", reason, "YES crossed book")
	}
}

func TestGateIsTotal(t *testing.T) {
	t.Parallel()

	// Every permutation should return either ok or a non-empty reason, never panic.
	inputs := []OutcomeInputs{
		{},
		healthyOutcome(),
		{AuthoritativeMid: dec("-1"), BestBid: dec("1"), BestAsk: dec("0")},
	}
	for _, in := range inputs {
		ok, reason := CheckOutcome(in)
		if !ok && reason == "" {
			t.Errorf("CheckOutcome(%+v) returned not-ok with empty reason", in)
		}
	}
}

func TestHealthyBookPasses(t *testing.T) {
	t.Parallel()

	ok, reason := RunCycle(5*time.Minute, healthyOutcome(), healthyOutcome())
	if !ok {
		t.Errorf("expected healthy book to pass, got reason %q", reason)
	}
}

func TestQuoteImprovementRejected(t *testing.T) {
	t.Parallel()

	yes := healthyOutcome()
	bid := dec("0.60") // improves best bid 0.49 by 0.11 > 0.05
	yes.DesiredBid = &bid

	ok, reason := CheckOutcome(yes)
	if ok {
		t.Fatal("expected rejection for excessive quote improvement")
	}
	if reason == "" {
		t.Error("expected non-empty reason")
	}
}

func TestMidOutsideBandRejected(t *testing.T) {
	t.Parallel()

	yes := healthyOutcome()
	yes.AuthoritativeMid = dec("0.96")

	ok, _ := CheckOutcome(yes)
	if ok {
		t.Fatal("expected rejection for midpoint outside [0.05, 0.95]")
	}
}
