package store

import (
	"context"
	"database/sql"

	"exchange/internal/amm"
	"exchange/internal/fault"
	"exchange/internal/market"
)

func scanPool(sc scanner) (amm.LPReserve, error) {
	var r0, r1, supply string
	if err := sc.Scan(&r0, &r1, &supply); err != nil {
		return amm.LPReserve{}, err
	}
	var (
		r   amm.LPReserve
		err error
	)
	if r.Reserve0, err = decodeAmount(r0); err != nil {
		return r, err
	}
	if r.Reserve1, err = decodeAmount(r1); err != nil {
		return r, err
	}
	if r.TotalSupply, err = decodeAmount(supply); err != nil {
		return r, err
	}
	return r, nil
}

// LockPool reads the pool of pair for update. A missing row yields an empty
// reserve with Insert set.
func (t *Tx) LockPool(ctx context.Context, pair market.Pair) (amm.LPReserve, error) {
	r, err := scanPool(t.queryRow(ctx,
		"SELECT reserve0, reserve1, total_supply FROM pools WHERE pair = ?"+t.dialect.forUpdate(),
		pair.String(),
	))
	if err == sql.ErrNoRows {
		return amm.LPReserve{Insert: true}, nil
	}
	return r, err
}

// SavePool inserts or updates the pool row depending on r.Insert.
func (t *Tx) SavePool(ctx context.Context, pair market.Pair, r amm.LPReserve) error {
	if r.Insert {
		return t.InsertPool(ctx, pair, r)
	}
	return t.UpdatePool(ctx, pair, r)
}

func (t *Tx) InsertPool(ctx context.Context, pair market.Pair, r amm.LPReserve) error {
	_, err := t.exec(ctx,
		"INSERT INTO pools (pair, reserve0, reserve1, total_supply) VALUES (?, ?, ?, ?)",
		pair.String(), r.Reserve0.Hex(), r.Reserve1.Hex(), r.TotalSupply.Hex(),
	)
	if err != nil {
		return fault.Wrap(fault.Critical, err, "insert pool "+pair.String())
	}
	return nil
}

func (t *Tx) UpdatePool(ctx context.Context, pair market.Pair, r amm.LPReserve) error {
	res, err := t.exec(ctx,
		"UPDATE pools SET reserve0 = ?, reserve1 = ?, total_supply = ? WHERE pair = ?",
		r.Reserve0.Hex(), r.Reserve1.Hex(), r.TotalSupply.Hex(), pair.String(),
	)
	return requireOne(res, err, fault.Criticalf("update of missing pool %s", pair))
}

// Pool reads the pool of pair without locking it.
func (s *Store) Pool(ctx context.Context, pair market.Pair) (amm.LPReserve, error) {
	r, err := scanPool(s.queryRow(ctx,
		"SELECT reserve0, reserve1, total_supply FROM pools WHERE pair = ?",
		pair.String(),
	))
	if err == sql.ErrNoRows {
		return amm.LPReserve{Insert: true}, nil
	}
	return r, err
}
