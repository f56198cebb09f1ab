package orderbook

import (
	"fmt"
	"time"

	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/safemath"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fault.Businessf("invalid side %q", s)
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FillMode decides what happens to the part of an order the book and the
// pool could not fill immediately.
type FillMode int

const (
	// Limit rests the remainder on the book.
	Limit FillMode = iota
	// ImmediateOrCancel refunds the remainder.
	ImmediateOrCancel
	// FillOrKill rejects the whole order unless it fills completely.
	FillOrKill
)

var ErrInvalidFillMode = fault.NewBusiness("invalid fill mode")

func (m FillMode) Valid() bool {
	return m >= Limit && m <= FillOrKill
}

func (m FillMode) String() string {
	switch m {
	case Limit:
		return "limit"
	case ImmediateOrCancel:
		return "ioc"
	case FillOrKill:
		return "fok"
	}
	return fmt.Sprintf("FillMode(%d)", int(m))
}

var ErrOrderTooSmall = fault.NewBusiness("order too small")

// Order is one resting or incoming order. It is owned by the job settling
// it and is never shared between goroutines.
//
// A buy escrows Primary: InitialAmount is the quote reserved at placement,
// Amount the base still wanted. A sell escrows Secondary and Amount always
// equals Balance.
type Order struct {
	ID            int64
	Pair          market.Pair
	Side          Side
	Price         safemath.SafeUint
	InitialAmount safemath.SafeUint
	TotalCost     safemath.SafeUint
	Amount        safemath.SafeUint
	Balance       safemath.SafeUint
	PlacedBy      string
	CreatedAt     time.Time
}

// Row is the persisted form of an Order.
type Row struct {
	ID            int64             `json:"id"`
	Pair          market.Pair       `json:"pair"`
	Side          Side              `json:"side"`
	Price         safemath.SafeUint `json:"price"`
	InitialAmount safemath.SafeUint `json:"initial_amount"`
	TotalCost     safemath.SafeUint `json:"total_cost"`
	Amount        safemath.SafeUint `json:"amount"`
	PlacedBy      string            `json:"placed_by"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewOrder builds an unpersisted order for amount base units at price.
// A zero price is only meaningful for sells that never rest.
func NewOrder(pair market.Pair, side Side, price, amount safemath.SafeUint, user string) (*Order, error) {
	escrow := amount
	if side == Buy {
		var err error
		escrow, err = amount.MulDivCeil(price, safemath.Ether)
		if err != nil {
			return nil, err
		}
	}
	if escrow.IsZero() {
		return nil, ErrOrderTooSmall
	}
	return &Order{
		Pair:          pair,
		Side:          side,
		Price:         price,
		InitialAmount: escrow,
		TotalCost:     safemath.Zero,
		Amount:        amount,
		Balance:       escrow,
		PlacedBy:      user,
		CreatedAt:     time.Now(),
	}, nil
}

// FromRow restores an order loaded from the store.
func FromRow(r Row) (*Order, error) {
	bal, err := r.InitialAmount.SubWith(r.TotalCost, fmt.Sprintf("order %d: cost exceeds escrow", r.ID), true)
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:            r.ID,
		Pair:          r.Pair,
		Side:          r.Side,
		Price:         r.Price,
		InitialAmount: r.InitialAmount,
		TotalCost:     r.TotalCost,
		Amount:        r.Amount,
		Balance:       bal,
		PlacedBy:      r.PlacedBy,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func (o *Order) Row() Row {
	return Row{
		ID:            o.ID,
		Pair:          o.Pair,
		Side:          o.Side,
		Price:         o.Price,
		InitialAmount: o.InitialAmount,
		TotalCost:     o.TotalCost,
		Amount:        o.Amount,
		PlacedBy:      o.PlacedBy,
		CreatedAt:     o.CreatedAt,
	}
}

// EscrowCoin is the coin the order spends.
func (o *Order) EscrowCoin() string {
	if o.Side == Buy {
		return o.Pair.Primary
	}
	return o.Pair.Secondary
}

// OutputCoin is the coin the order receives.
func (o *Order) OutputCoin() string {
	if o.Side == Buy {
		return o.Pair.Secondary
	}
	return o.Pair.Primary
}

// Debit records that the order spent some of its escrow and received
// output. Balance is recomputed from InitialAmount and can never go negative.
func (o *Order) Debit(spent, received safemath.SafeUint) error {
	total := o.TotalCost.Add(spent)
	bal, err := o.InitialAmount.SubWith(total, fmt.Sprintf("order %d overspent escrow", o.ID), true)
	if err != nil {
		return err
	}
	o.TotalCost = total
	o.Balance = bal
	if o.Side == Buy {
		o.Amount = o.Amount.SaturatingSub(received)
	} else {
		o.Amount = bal
	}
	return nil
}

// Capacity is the base amount the order can still trade at price.
func (o *Order) Capacity(price safemath.SafeUint) safemath.SafeUint {
	if o.Side == Sell {
		return o.Balance
	}
	if price.IsZero() {
		return o.Amount
	}
	affordable, _ := o.Balance.MulDiv(safemath.Ether, price)
	return safemath.Min(o.Amount, affordable)
}

// Exhausted reports whether the order cannot trade any more at its own
// price. What is left of its balance is dust to be refunded.
func (o *Order) Exhausted() bool {
	return o.Capacity(o.Price).IsZero()
}

// Crosses reports whether a resting order at price is acceptable to o.
func (o *Order) Crosses(price safemath.SafeUint) bool {
	if o.Side == Buy {
		return price.LessEq(o.Price)
	}
	return price.GreaterEq(o.Price)
}
