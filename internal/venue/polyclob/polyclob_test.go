package polyclob

import (
	"testing"

	"github.com/favored-labs/predictmm/internal/exchange"
)

func TestConvertBookResponseMapsLevels(t *testing.T) {
	t.Parallel()

	resp := &exchange.BookResponse{
		AssetID: "token-1",
		Bids:    []exchange.PriceLevel{{Price: "0.45", Size: "10"}},
		Asks:    []exchange.PriceLevel{{Price: "0.55", Size: "20"}},
	}

	snap := convertBookResponse(resp)

	if snap.TokenID != "token-1" {
		t.Errorf("TokenID = %q, want token-1", snap.TokenID)
	}
	bid, ask, ok := snap.BestBidAsk()
	if !ok {
		t.Fatal("expected BestBidAsk to succeed")
	}
	if bid.String() != "0.45" || ask.String() != "0.55" {
		t.Errorf("best bid/ask = %s/%s, want 0.45/0.55", bid, ask)
	}
}

func TestMustDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	t.Parallel()

	if !mustDecimal("not-a-number").IsZero() {
		t.Error("expected mustDecimal to fall back to zero for unparseable input")
	}
}
