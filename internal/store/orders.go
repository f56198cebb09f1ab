package store

import (
	"context"
	"database/sql"
	"time"

	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/orderbook"
	"exchange/internal/safemath"
)

var ErrOrderNotFound = fault.NewBusiness("order not found")

const orderColumns = "id, pair, side, price, initial_amount, total_cost, amount, placed_by, created_at"

func scanOrderRow(sc scanner) (orderbook.Row, error) {
	var (
		r                                        orderbook.Row
		pair, side, price, initial, cost, amount string
		createdAt                                int64
	)
	if err := sc.Scan(&r.ID, &pair, &side, &price, &initial, &cost, &amount, &r.PlacedBy, &createdAt); err != nil {
		return r, err
	}
	var err error
	if r.Pair, err = decodePair(pair); err != nil {
		return r, err
	}
	if r.Side, err = decodeSide(side); err != nil {
		return r, err
	}
	if r.Price, err = decodeAmount(price); err != nil {
		return r, err
	}
	if r.InitialAmount, err = decodeAmount(initial); err != nil {
		return r, err
	}
	if r.TotalCost, err = decodeAmount(cost); err != nil {
		return r, err
	}
	if r.Amount, err = decodeAmount(amount); err != nil {
		return r, err
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return r, nil
}

func collectOrderRows(rows *sql.Rows) ([]orderbook.Row, error) {
	defer rows.Close()
	var out []orderbook.Row
	for rows.Next() {
		r, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// bookQuery selects the resting orders on side in priority order: lowest
// price first for sells, highest first for buys, then oldest first.
func bookQuery(side orderbook.Side, limited bool) string {
	q := "SELECT " + orderColumns + " FROM orders WHERE pair = ? AND side = ?"
	if side == orderbook.Sell {
		if limited {
			q += " AND price <= ?"
		}
		return q + " ORDER BY price ASC, id ASC"
	}
	if limited {
		q += " AND price >= ?"
	}
	return q + " ORDER BY price DESC, id ASC"
}

// LockBook locks and returns the orders resting on side that an incoming
// order limited to limit could trade with. A zero limit on the buy side
// returns every bid.
func (t *Tx) LockBook(ctx context.Context, pair market.Pair, side orderbook.Side, limit safemath.SafeUint) ([]*orderbook.Order, error) {
	bound, err := limit.PaddedHex()
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, bookQuery(side, true)+t.dialect.forUpdate(), pair.String(), side.String(), bound)
	if err != nil {
		return nil, err
	}
	list, err := collectOrderRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*orderbook.Order, 0, len(list))
	for _, r := range list {
		o, err := orderbook.FromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// LockOrder locks a single order.
func (t *Tx) LockOrder(ctx context.Context, id int64) (*orderbook.Order, error) {
	r, err := scanOrderRow(t.queryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = ?"+t.dialect.forUpdate(), id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return orderbook.FromRow(r)
}

// InsertOrder persists a new resting order and sets its ID.
func (t *Tx) InsertOrder(ctx context.Context, o *orderbook.Order) error {
	price, err := o.Price.PaddedHex()
	if err != nil {
		return err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	err = t.queryRow(ctx,
		`INSERT INTO orders (pair, side, price, initial_amount, total_cost, amount, placed_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		o.Pair.String(), o.Side.String(), price, o.InitialAmount.Hex(), o.TotalCost.Hex(),
		o.Amount.Hex(), o.PlacedBy, o.CreatedAt.UnixMilli(),
	).Scan(&o.ID)
	return err
}

// UpdateOrder stores the fill progress of a resting order.
func (t *Tx) UpdateOrder(ctx context.Context, o *orderbook.Order) error {
	res, err := t.exec(ctx,
		"UPDATE orders SET total_cost = ?, amount = ? WHERE id = ?",
		o.TotalCost.Hex(), o.Amount.Hex(), o.ID,
	)
	return requireOne(res, err, fault.Criticalf("update of missing order %d", o.ID))
}

func (t *Tx) DeleteOrder(ctx context.Context, id int64) error {
	res, err := t.exec(ctx, "DELETE FROM orders WHERE id = ?", id)
	return requireOne(res, err, fault.Criticalf("delete of missing order %d", id))
}

// OpenOrders returns user's resting orders, newest first.
func (s *Store) OpenOrders(ctx context.Context, user string) ([]orderbook.Row, error) {
	rows, err := s.query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE placed_by = ? ORDER BY id DESC",
		user,
	)
	if err != nil {
		return nil, err
	}
	return collectOrderRows(rows)
}

// Book returns the aggregated book for pair with at most depth levels per
// side.
func (s *Store) Book(ctx context.Context, pair market.Pair, depth int) (orderbook.BookSnapshot, error) {
	snap := orderbook.BookSnapshot{Pair: pair}
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		rows, err := s.query(ctx, bookQuery(side, false), pair.String(), side.String())
		if err != nil {
			return snap, err
		}
		list, err := collectOrderRows(rows)
		if err != nil {
			return snap, err
		}
		if side == orderbook.Buy {
			snap.Bids = orderbook.Levels(list, depth)
		} else {
			snap.Asks = orderbook.Levels(list, depth)
		}
	}
	return snap, nil
}
