package orderbook

import (
	"exchange/internal/market"
	"exchange/internal/safemath"
)

// BookSnapshot is an aggregated view of one pair's book.
type BookSnapshot struct {
	Pair market.Pair `json:"pair"`
	Bids []Level     `json:"bids"`
	Asks []Level     `json:"asks"`
}

// Level is the total base amount resting at one price.
type Level struct {
	Price  safemath.SafeUint `json:"price"`
	Amount safemath.SafeUint `json:"amount"`
	Orders int               `json:"orders"`
}

// Levels aggregates rows already sorted best price first into at most depth
// levels. depth <= 0 means no limit.
func Levels(rows []Row, depth int) []Level {
	levels := make([]Level, 0)
	for _, r := range rows {
		n := len(levels)
		if n > 0 && levels[n-1].Price.Equal(r.Price) {
			levels[n-1].Amount = levels[n-1].Amount.Add(r.Amount)
			levels[n-1].Orders++
			continue
		}
		if depth > 0 && n == depth {
			break
		}
		levels = append(levels, Level{Price: r.Price, Amount: r.Amount, Orders: 1})
	}
	return levels
}

// BestBid returns the highest bid price, or zero if there are no bids.
func (b BookSnapshot) BestBid() safemath.SafeUint {
	if len(b.Bids) == 0 {
		return safemath.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or zero if there are no asks.
func (b BookSnapshot) BestAsk() safemath.SafeUint {
	if len(b.Asks) == 0 {
		return safemath.Zero
	}
	return b.Asks[0].Price
}
