package orderbook

import (
	"testing"

	"exchange/internal/market"
	"exchange/internal/safemath"
)

var testPair = market.NewPair("USDC", "ETH")

func d(s string) safemath.SafeUint {
	return safemath.MustParseDecimal(s)
}

func TestLevelsAggregatesEqualPrices(t *testing.T) {
	rows := []Row{
		{ID: 1, Price: d("1"), Amount: d("2")},
		{ID: 2, Price: d("1"), Amount: d("3")},
		{ID: 3, Price: d("1.5"), Amount: d("1")},
		{ID: 4, Price: d("2"), Amount: d("1")},
	}

	levels := Levels(rows, 0)
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if !levels[0].Amount.Equal(d("5")) {
		t.Errorf("expected first level amount 5, got %s", levels[0].Amount.FormatDecimal())
	}
	if levels[0].Orders != 2 {
		t.Errorf("expected 2 orders at first level, got %d", levels[0].Orders)
	}
}

func TestLevelsDepth(t *testing.T) {
	rows := []Row{
		{ID: 1, Price: d("1"), Amount: d("1")},
		{ID: 2, Price: d("2"), Amount: d("1")},
		{ID: 3, Price: d("3"), Amount: d("1")},
	}

	levels := Levels(rows, 2)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[1].Price.Equal(d("2")) {
		t.Errorf("expected second level at 2, got %s", levels[1].Price.FormatDecimal())
	}
}

func TestBestBidAsk(t *testing.T) {
	snap := BookSnapshot{Pair: testPair}
	if !snap.BestBid().IsZero() || !snap.BestAsk().IsZero() {
		t.Error("expected zero best prices on empty book")
	}

	snap.Bids = []Level{{Price: d("9")}, {Price: d("8")}}
	snap.Asks = []Level{{Price: d("10")}}
	if !snap.BestBid().Equal(d("9")) {
		t.Errorf("expected best bid 9, got %s", snap.BestBid().FormatDecimal())
	}
	if !snap.BestAsk().Equal(d("10")) {
		t.Errorf("expected best ask 10, got %s", snap.BestAsk().FormatDecimal())
	}
}

func TestFillModeValid(t *testing.T) {
	for _, m := range []FillMode{Limit, ImmediateOrCancel, FillOrKill} {
		if !m.Valid() {
			t.Errorf("expected %s to be valid", m)
		}
	}
	if FillMode(3).Valid() || FillMode(-1).Valid() {
		t.Error("expected out-of-range fill modes to be invalid")
	}
}
