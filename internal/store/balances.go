package store

import (
	"context"
	"database/sql"

	"exchange/internal/safemath"
)

// Balance is one coin holding of a user.
type Balance struct {
	Coin    string
	Balance safemath.SafeUint
}

// LockBalance reads a balance for update, inserting a zero row when the user
// has never held the coin.
func (t *Tx) LockBalance(ctx context.Context, user, coin string) (safemath.SafeUint, error) {
	raw, err := t.selectBalance(ctx, user, coin)
	if err == sql.ErrNoRows {
		_, err = t.exec(ctx,
			`INSERT INTO balances (user_id, coin, balance) VALUES (?, ?, ?)
			 ON CONFLICT (user_id, coin) DO NOTHING`,
			user, coin, safemath.Zero.Hex(),
		)
		if err != nil {
			return safemath.SafeUint{}, err
		}
		raw, err = t.selectBalance(ctx, user, coin)
	}
	if err != nil {
		return safemath.SafeUint{}, err
	}
	return decodeAmount(raw)
}

func (t *Tx) selectBalance(ctx context.Context, user, coin string) (string, error) {
	var raw string
	err := t.queryRow(ctx,
		"SELECT balance FROM balances WHERE user_id = ? AND coin = ?"+t.dialect.forUpdate(),
		user, coin,
	).Scan(&raw)
	return raw, err
}

// WriteBalance stores the new value of a balance row.
func (t *Tx) WriteBalance(ctx context.Context, user, coin string, value safemath.SafeUint) error {
	_, err := t.exec(ctx,
		`INSERT INTO balances (user_id, coin, balance) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, coin) DO UPDATE SET balance = excluded.balance`,
		user, coin, value.Hex(),
	)
	return err
}

// Balances returns every nonzero balance of user, sorted by coin.
func (s *Store) Balances(ctx context.Context, user string) ([]Balance, error) {
	rows, err := s.query(ctx,
		"SELECT coin, balance FROM balances WHERE user_id = ? ORDER BY coin",
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		var raw string
		if err := rows.Scan(&b.Coin, &raw); err != nil {
			return nil, err
		}
		if b.Balance, err = decodeAmount(raw); err != nil {
			return nil, err
		}
		if b.Balance.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Balance returns a single balance without locking it.
func (s *Store) Balance(ctx context.Context, user, coin string) (safemath.SafeUint, error) {
	var raw string
	err := s.queryRow(ctx,
		"SELECT balance FROM balances WHERE user_id = ? AND coin = ?",
		user, coin,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return safemath.Zero, nil
	}
	if err != nil {
		return safemath.SafeUint{}, err
	}
	return decodeAmount(raw)
}
