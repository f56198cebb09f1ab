package orderbook

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/safemath"
)

// ErrNoMatch means the resting order's price is not acceptable to the
// incoming order. Neither order is modified.
var ErrNoMatch = errors.New("orders do not cross")

// PoolMaker is the counterparty recorded for fills against the AMM pool.
const PoolMaker = "pool"

// Fill is the result of matching two orders.
type Fill struct {
	Price  safemath.SafeUint
	Base   safemath.SafeUint
	Quote  safemath.SafeUint
	Buyer  *Order
	Seller *Order
}

// MatchOrders fills incoming against resting at the resting order's price.
// The fill is as large as both orders allow; the quote owed is rounded up so
// a nonzero fill always moves quote.
func MatchOrders(incoming, resting *Order) (Fill, error) {
	if incoming.Side == resting.Side {
		return Fill{}, fault.Criticalf("matching order %d against same-side order %d", incoming.ID, resting.ID)
	}
	if !incoming.Crosses(resting.Price) {
		return Fill{}, ErrNoMatch
	}

	price := resting.Price
	base := safemath.Min(incoming.Capacity(price), resting.Capacity(price))
	if base.IsZero() {
		return Fill{}, fault.Criticalf("zero-output match between orders %d and %d", incoming.ID, resting.ID)
	}
	quote, err := base.MulDivCeil(price, safemath.Ether)
	if err != nil {
		return Fill{}, err
	}
	if quote.IsZero() {
		return Fill{}, fault.Criticalf("zero-cost match at order %d", resting.ID)
	}

	buyer, seller := incoming, resting
	if incoming.Side == Sell {
		buyer, seller = resting, incoming
	}
	if err := buyer.Debit(quote, base); err != nil {
		return Fill{}, err
	}
	if err := seller.Debit(base, quote); err != nil {
		return Fill{}, err
	}
	return Fill{Price: price, Base: base, Quote: quote, Buyer: buyer, Seller: seller}, nil
}

// Trade is an executed fill, either between two orders or between an order
// and the pool.
type Trade struct {
	ID         string            `json:"id"`
	Pair       market.Pair       `json:"pair"`
	Side       Side              `json:"side"`
	Price      safemath.SafeUint `json:"price"`
	Amount     safemath.SafeUint `json:"amount"`
	Quote      safemath.SafeUint `json:"quote"`
	Taker      string            `json:"taker"`
	Maker      string            `json:"maker"`
	MakerOrder int64             `json:"maker_order,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Trade describes the fill from the taker's point of view.
func (f Fill) Trade(taker *Order) Trade {
	maker := f.Seller
	if taker.Side == Sell {
		maker = f.Buyer
	}
	return Trade{
		ID:         uuid.New().String(),
		Pair:       taker.Pair,
		Side:       taker.Side,
		Price:      f.Price,
		Amount:     f.Base,
		Quote:      f.Quote,
		Taker:      taker.PlacedBy,
		Maker:      maker.PlacedBy,
		MakerOrder: maker.ID,
		Timestamp:  time.Now(),
	}
}

// PoolTrade records a fill of taker against the AMM.
func PoolTrade(taker *Order, base, quote safemath.SafeUint) Trade {
	price, _ := quote.MulDiv(safemath.Ether, base)
	return Trade{
		ID:        uuid.New().String(),
		Pair:      taker.Pair,
		Side:      taker.Side,
		Price:     price,
		Amount:    base,
		Quote:     quote,
		Taker:     taker.PlacedBy,
		Maker:     PoolMaker,
		Timestamp: time.Now(),
	}
}
