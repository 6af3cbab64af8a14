package pricegrid

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

func TestTickSizeDefaultAndRanged(t *testing.T) {
	t.Parallel()

	g := New([]mmtypes.PriceRange{
		{Start: dec("0.01"), End: dec("0.10"), Step: dec("0.001")},
		{Start: dec("0.90"), End: dec("0.99"), Step: dec("0.001")},
	})

	tests := []struct {
		price decimal.Decimal
		want  decimal.Decimal
	}{
		{dec("0.05"), dec("0.001")},
		{dec("0.50"), DefaultStep},
		{dec("0.95"), dec("0.001")},
	}

	for _, tt := range tests {
		if got := g.TickSize(tt.price); !got.Equal(tt.want) {
			t.Errorf("TickSize(%s) = %s, want %s", tt.price, got, tt.want)
		}
	}
}

func TestQuantizeClampsBounds(t *testing.T) {
	t.Parallel()

	g := New(nil)

	if got := g.Quantize(dec("0.001"), mmtypes.Round); !got.Equal(dec("0.01")) {
		t.Errorf("Quantize(below min) = %s, want 0.01", got)
	}
	if got := g.Quantize(dec("0.999"), mmtypes.Round); !got.Equal(dec("0.99")) {
		t.Errorf("Quantize(above max) = %s, want 0.99", got)
	}
}

func TestQuantizeFloorCeilRound(t *testing.T) {
	t.Parallel()

	g := New(nil)
	p := dec("0.4739")

	if got := g.Quantize(p, mmtypes.Floor); !got.Equal(dec("0.47")) {
		t.Errorf("Floor(0.4739) = %s, want 0.47", got)
	}
	if got := g.Quantize(p, mmtypes.Ceil); !got.Equal(dec("0.48")) {
		t.Errorf("Ceil(0.4739) = %s, want 0.48", got)
	}
	if got := g.Quantize(p, mmtypes.Round); !got.Equal(dec("0.47")) {
		t.Errorf("Round(0.4739) = %s, want 0.47", got)
	}
}

func TestQuantizeIsIdempotent(t *testing.T) {
	t.Parallel()

	g := New(nil)
	for _, mode := range []mmtypes.QuantizeMode{mmtypes.Floor, mmtypes.Ceil, mmtypes.Round} {
		once := g.Quantize(dec("0.4739"), mode)
		twice := g.Quantize(once, mode)
		if !once.Equal(twice) {
			t.Errorf("mode %v: quantize not idempotent: once=%s twice=%s", mode, once, twice)
		}
	}
}
