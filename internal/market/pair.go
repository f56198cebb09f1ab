package market

import (
	"strings"

	"exchange/internal/fault"
)

var ErrInvalidPair = fault.NewBusiness("invalid pair")

// Pair identifies a market. Primary is the pricing coin, Secondary the coin
// being traded: a price is the amount of Primary paid for one Secondary.
type Pair struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

func NewPair(primary, secondary string) Pair {
	return Pair{Primary: primary, Secondary: secondary}
}

// ParsePair parses "PRIMARY/SECONDARY".
func ParsePair(s string) (Pair, error) {
	primary, secondary, ok := strings.Cut(s, "/")
	p := Pair{Primary: primary, Secondary: secondary}
	if !ok || !p.Valid() {
		return Pair{}, fault.Wrap(fault.Business, ErrInvalidPair, s)
	}
	return p, nil
}

func (p Pair) String() string {
	return p.Primary + "/" + p.Secondary
}

func (p Pair) Valid() bool {
	return p.Primary != "" && p.Secondary != "" && p.Primary != p.Secondary &&
		!strings.Contains(p.Primary, "/") && !strings.Contains(p.Secondary, "/")
}

// LPCoin is the ledger coin holding liquidity shares of the pair's pool.
func (p Pair) LPCoin() string {
	return "LP:" + p.String()
}
