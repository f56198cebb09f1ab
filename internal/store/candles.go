package store

import (
	"context"
	"database/sql"
	"time"

	"exchange/internal/market"
	"exchange/internal/safemath"
)

// Candle is one OHLC bucket of the pool price.
type Candle struct {
	Pair     market.Pair       `json:"pair"`
	Interval time.Duration     `json:"-"`
	Start    time.Time         `json:"start"`
	Open     safemath.SafeUint `json:"open"`
	High     safemath.SafeUint `json:"high"`
	Low      safemath.SafeUint `json:"low"`
	Close    safemath.SafeUint `json:"close"`
	Updates  int64             `json:"updates"`
}

const candleColumns = "pair, interval_secs, start_time, open, high, low, close, updates"

func scanCandle(sc scanner) (Candle, error) {
	var (
		c                             Candle
		pair, open, high, low, closed string
		secs, start                   int64
	)
	if err := sc.Scan(&pair, &secs, &start, &open, &high, &low, &closed, &c.Updates); err != nil {
		return c, err
	}
	var err error
	if c.Pair, err = decodePair(pair); err != nil {
		return c, err
	}
	c.Interval = time.Duration(secs) * time.Second
	c.Start = time.Unix(start, 0).UTC()
	if c.Open, err = decodeAmount(open); err != nil {
		return c, err
	}
	if c.High, err = decodeAmount(high); err != nil {
		return c, err
	}
	if c.Low, err = decodeAmount(low); err != nil {
		return c, err
	}
	if c.Close, err = decodeAmount(closed); err != nil {
		return c, err
	}
	return c, nil
}

// LockCandle locks the bucket starting at start. ok is false if it does not
// exist yet.
func (t *Tx) LockCandle(ctx context.Context, pair market.Pair, interval time.Duration, start time.Time) (c Candle, ok bool, err error) {
	c, err = scanCandle(t.queryRow(ctx,
		"SELECT "+candleColumns+" FROM candles WHERE pair = ? AND interval_secs = ? AND start_time = ?"+t.dialect.forUpdate(),
		pair.String(), int64(interval/time.Second), start.Unix(),
	))
	if err == sql.ErrNoRows {
		return Candle{}, false, nil
	}
	if err != nil {
		return Candle{}, false, err
	}
	return c, true, nil
}

func (t *Tx) InsertCandle(ctx context.Context, c Candle) error {
	_, err := t.exec(ctx,
		"INSERT INTO candles ("+candleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.Pair.String(), int64(c.Interval/time.Second), c.Start.Unix(),
		c.Open.Hex(), c.High.Hex(), c.Low.Hex(), c.Close.Hex(), c.Updates,
	)
	return err
}

func (t *Tx) UpdateCandle(ctx context.Context, c Candle) error {
	res, err := t.exec(ctx,
		`UPDATE candles SET high = ?, low = ?, close = ?, updates = ?
		 WHERE pair = ? AND interval_secs = ? AND start_time = ?`,
		c.High.Hex(), c.Low.Hex(), c.Close.Hex(), c.Updates,
		c.Pair.String(), int64(c.Interval/time.Second), c.Start.Unix(),
	)
	return requireOne(res, err, sql.ErrNoRows)
}

// Candles returns up to limit buckets of pair, most recent first.
func (s *Store) Candles(ctx context.Context, pair market.Pair, interval time.Duration, limit int) ([]Candle, error) {
	rows, err := s.query(ctx,
		"SELECT "+candleColumns+" FROM candles WHERE pair = ? AND interval_secs = ? ORDER BY start_time DESC LIMIT ?",
		pair.String(), int64(interval/time.Second), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
