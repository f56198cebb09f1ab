package market

import (
	"errors"
	"testing"

	"exchange/internal/fault"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		in      string
		want    Pair
		wantErr bool
	}{
		{"USDC/ETH", NewPair("USDC", "ETH"), false},
		{"DAI/WBTC", NewPair("DAI", "WBTC"), false},
		{"USDC", Pair{}, true},
		{"USDC/", Pair{}, true},
		{"/ETH", Pair{}, true},
		{"ETH/ETH", Pair{}, true},
		{"A/B/C", Pair{}, true},
		{"", Pair{}, true},
	}

	for _, tt := range tests {
		got, err := ParsePair(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePair(%q) expected error", tt.in)
			} else if !fault.IsBusiness(err) || !errors.Is(err, ErrInvalidPair) {
				t.Errorf("ParsePair(%q) error %v should be a business ErrInvalidPair", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePair(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePair(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestLPCoin(t *testing.T) {
	p := NewPair("USDC", "ETH")
	if p.LPCoin() != "LP:USDC/ETH" {
		t.Errorf("LPCoin() = %q", p.LPCoin())
	}
	if NewPair("ETH", "USDC").LPCoin() == p.LPCoin() {
		t.Error("Reversed pairs must not share a liquidity coin")
	}
}

func TestParseMarket(t *testing.T) {
	m, err := Parse("USDC", "ETH", "0.01")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.MinOrder.FormatDecimal() != "0.01" {
		t.Errorf("MinOrder = %s, want 0.01", m.MinOrder.FormatDecimal())
	}

	m, err = Parse("USDC", "ETH", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !m.MinOrder.IsZero() {
		t.Errorf("Empty min order should be zero, got %s", m.MinOrder)
	}

	if _, err := Parse("USDC", "USDC", ""); err == nil {
		t.Error("Expected error for identical coins")
	}
	if _, err := Parse("USDC", "ETH", "lots"); err == nil {
		t.Error("Expected error for bad min order")
	}
}

func TestRegistry(t *testing.T) {
	eth, _ := Parse("USDC", "ETH", "0.001")
	btc, _ := Parse("USDC", "WBTC", "0.0001")
	r := NewRegistry(eth, btc)

	got, err := r.Lookup(NewPair("USDC", "WBTC"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Pair != btc.Pair {
		t.Errorf("Lookup returned %v", got.Pair)
	}

	if _, err := r.Lookup(NewPair("ETH", "USDC")); !errors.Is(err, ErrUnknownPair) {
		t.Errorf("Reversed pair should be unknown, got %v", err)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d markets", len(all))
	}
	if all[0].Pair.String() != "USDC/ETH" || all[1].Pair.String() != "USDC/WBTC" {
		t.Errorf("All() not sorted: %v, %v", all[0].Pair, all[1].Pair)
	}

	for _, coin := range []string{"USDC", "ETH", "WBTC"} {
		if !r.HasCoin(coin) {
			t.Errorf("HasCoin(%q) = false", coin)
		}
	}
	if r.HasCoin("DOGE") {
		t.Error("HasCoin(DOGE) = true")
	}
	if r.HasCoin(eth.Pair.LPCoin()) {
		t.Error("Liquidity coins are not deposit coins")
	}
}
