package kalshi

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
)

func TestSignerHeadersIncludesRequiredFields(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := Signer{KeyID: "key-123", PrivateKey: key}

	headers, err := s.Headers("GET", "/trade-api/v2/portfolio/orders")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	if headers["KALSHI-ACCESS-KEY"] != "key-123" {
		t.Errorf("access key = %q, want key-123", headers["KALSHI-ACCESS-KEY"])
	}
	if headers["KALSHI-ACCESS-TIMESTAMP"] == "" {
		t.Error("expected non-empty timestamp header")
	}
	if headers["KALSHI-ACCESS-SIGNATURE"] == "" {
		t.Error("expected non-empty signature header")
	}
}

func TestSignerHeadersVaryByPath(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := Signer{KeyID: "key-123", PrivateKey: key}

	a, err := s.Headers("GET", "/a")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	b, err := s.Headers("GET", "/b")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	if a["KALSHI-ACCESS-SIGNATURE"] == b["KALSHI-ACCESS-SIGNATURE"] {
		t.Error("expected distinct signatures for distinct paths")
	}
}

func TestCentLevelConvertsCentsToDecimalDollars(t *testing.T) {
	t.Parallel()

	lvl := centLevel([2]int64{45, 10})
	if lvl.Price.String() != "0.45" {
		t.Errorf("price = %s, want 0.45", lvl.Price.String())
	}
	if lvl.Size.String() != "10" {
		t.Errorf("size = %s, want 10", lvl.Size.String())
	}
}

func TestNewAdapterReportsVenueID(t *testing.T) {
	t.Parallel()

	a := New("https://trading-api.kalshi.com", Signer{})
	if a.VenueID() != "kalshi" {
		t.Errorf("VenueID() = %q, want kalshi", a.VenueID())
	}
	if !strings.Contains(VenueID, "kalshi") {
		t.Errorf("VenueID const = %q", VenueID)
	}
}

func TestOrderGroupOpsUnsupported(t *testing.T) {
	t.Parallel()

	a := New("https://trading-api.kalshi.com", Signer{})
	if _, err := a.CreateOrderGroup(nil, nil); err == nil {
		t.Error("expected CreateOrderGroup to report unsupported")
	}
	if err := a.ResetOrderGroup(nil, "g1"); err == nil {
		t.Error("expected ResetOrderGroup to report unsupported")
	}
}
