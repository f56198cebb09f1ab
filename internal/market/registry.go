// Package market holds the set of tradable pairs.
package market

import (
	"fmt"
	"sort"

	"exchange/internal/fault"
	"exchange/internal/safemath"
)

var ErrUnknownPair = fault.NewBusiness("pair does not exist")

// Market is an enabled pair and its listing rules.
type Market struct {
	Pair Pair
	// MinOrder is the smallest base amount a resting limit order may have.
	MinOrder safemath.SafeUint
}

// Parse builds a Market from configuration strings. minOrder is a human
// decimal such as "0.01"; empty means no minimum.
func Parse(primary, secondary, minOrder string) (Market, error) {
	p := NewPair(primary, secondary)
	if !p.Valid() {
		return Market{}, fmt.Errorf("market %s: %w", p, ErrInvalidPair)
	}
	m := Market{Pair: p}
	if minOrder != "" {
		v, err := safemath.ParseDecimal(minOrder)
		if err != nil {
			return Market{}, fmt.Errorf("market %s min_order: %w", p, err)
		}
		m.MinOrder = v
	}
	return m, nil
}

// Registry is built once at startup and read concurrently afterwards.
type Registry struct {
	markets map[Pair]Market
}

func NewRegistry(markets ...Market) *Registry {
	r := &Registry{markets: make(map[Pair]Market, len(markets))}
	for _, m := range markets {
		r.markets[m.Pair] = m
	}
	return r
}

// Lookup returns the market for p or ErrUnknownPair.
func (r *Registry) Lookup(p Pair) (Market, error) {
	m, ok := r.markets[p]
	if !ok {
		return Market{}, ErrUnknownPair
	}
	return m, nil
}

// All returns every market sorted by pair name.
func (r *Registry) All() []Market {
	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}

// HasCoin reports whether coin is traded in any market.
func (r *Registry) HasCoin(coin string) bool {
	for p := range r.markets {
		if p.Primary == coin || p.Secondary == coin {
			return true
		}
	}
	return false
}
