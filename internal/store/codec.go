package store

import (
	"fmt"

	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func decodeAmount(s string) (safemath.SafeUint, error) {
	v, err := safemath.ParseHex(s)
	if err != nil {
		return safemath.SafeUint{}, fmt.Errorf("corrupt amount column: %w", err)
	}
	return v, nil
}

func decodePair(s string) (market.Pair, error) {
	p, err := market.ParsePair(s)
	if err != nil {
		return market.Pair{}, fmt.Errorf("corrupt pair column %q", s)
	}
	return p, nil
}

func decodeSide(s string) (orderbook.Side, error) {
	side, err := orderbook.ParseSide(s)
	if err != nil {
		return 0, fmt.Errorf("corrupt side column %q", s)
	}
	return side, nil
}
