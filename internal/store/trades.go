package store

import (
	"context"
	"time"

	"exchange/internal/market"
	"exchange/internal/orderbook"
)

const tradeColumns = "id, pair, side, price, amount, quote, taker, maker, maker_order, created_at"

// InsertTrade records an executed fill.
func (t *Tx) InsertTrade(ctx context.Context, tr orderbook.Trade) error {
	_, err := t.exec(ctx,
		"INSERT INTO trades ("+tradeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tr.ID, tr.Pair.String(), tr.Side.String(), tr.Price.Hex(), tr.Amount.Hex(), tr.Quote.Hex(),
		tr.Taker, tr.Maker, tr.MakerOrder, tr.Timestamp.UnixMilli(),
	)
	return err
}

func scanTrade(sc scanner) (orderbook.Trade, error) {
	var (
		tr                               orderbook.Trade
		pair, side, price, amount, quote string
		createdAt                        int64
	)
	if err := sc.Scan(&tr.ID, &pair, &side, &price, &amount, &quote, &tr.Taker, &tr.Maker, &tr.MakerOrder, &createdAt); err != nil {
		return tr, err
	}
	var err error
	if tr.Pair, err = decodePair(pair); err != nil {
		return tr, err
	}
	if tr.Side, err = decodeSide(side); err != nil {
		return tr, err
	}
	if tr.Price, err = decodeAmount(price); err != nil {
		return tr, err
	}
	if tr.Amount, err = decodeAmount(amount); err != nil {
		return tr, err
	}
	if tr.Quote, err = decodeAmount(quote); err != nil {
		return tr, err
	}
	tr.Timestamp = time.UnixMilli(createdAt)
	return tr, nil
}

// Trades returns the most recent trades of pair.
func (s *Store) Trades(ctx context.Context, pair market.Pair, limit int) ([]orderbook.Trade, error) {
	rows, err := s.query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE pair = ? ORDER BY created_at DESC, id LIMIT ?",
		pair.String(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orderbook.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
