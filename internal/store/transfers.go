package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"exchange/internal/fault"
	"exchange/internal/safemath"
)

var (
	ErrTransferNotFound = fault.NewBusiness("transfer not found")
	ErrTxHashClaimed    = fault.NewBusiness("transaction already claimed")
)

type TransferKind string

const (
	Deposit    TransferKind = "deposit"
	Withdrawal TransferKind = "withdrawal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is an on-chain movement waiting for, or done with, settlement.
// A deposit credits the user when it confirms. A withdrawal is debited when
// requested and refunded if it fails.
type Transfer struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Coin      string            `json:"coin"`
	Amount    safemath.SafeUint `json:"amount"`
	Kind      TransferKind      `json:"kind"`
	Address   string            `json:"address,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Status    TransferStatus    `json:"status"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

const transferColumns = "id, user_id, coin, amount, kind, address, tx_hash, status, attempts, created_at, updated_at"

func scanTransfer(sc scanner) (*Transfer, error) {
	var (
		tr               Transfer
		amount           string
		created, updated int64
	)
	if err := sc.Scan(&tr.ID, &tr.UserID, &tr.Coin, &amount, &tr.Kind, &tr.Address, &tr.TxHash,
		&tr.Status, &tr.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if tr.Amount, err = decodeAmount(amount); err != nil {
		return nil, err
	}
	tr.CreatedAt = time.UnixMilli(created)
	tr.UpdatedAt = time.UnixMilli(updated)
	return &tr, nil
}

// InsertTransfer queues a pending transfer and assigns its ID.
func (t *Tx) InsertTransfer(ctx context.Context, tr *Transfer) error {
	now := time.Now()
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	tr.Status = TransferPending
	tr.CreatedAt, tr.UpdatedAt = now, now
	_, err := t.exec(ctx,
		"INSERT INTO transfers ("+transferColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tr.ID, tr.UserID, tr.Coin, tr.Amount.Hex(), string(tr.Kind), tr.Address, tr.TxHash,
		string(tr.Status), tr.Attempts, now.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (t *Tx) LockTransfer(ctx context.Context, id string) (*Transfer, error) {
	tr, err := scanTransfer(t.queryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE id = ?"+t.dialect.forUpdate(), id))
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	return tr, err
}

// ClaimTxHash fails with ErrTxHashClaimed when another transfer already
// carries hash. The unique index backs this up across concurrent writers.
func (t *Tx) ClaimTxHash(ctx context.Context, hash string) error {
	var n int
	if err := t.queryRow(ctx, "SELECT COUNT(*) FROM transfers WHERE tx_hash = ?", hash).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrTxHashClaimed
	}
	return nil
}

// UpdateTransfer stores status, amount, hash and attempt count.
func (t *Tx) UpdateTransfer(ctx context.Context, tr *Transfer) error {
	tr.UpdatedAt = time.Now()
	res, err := t.exec(ctx,
		"UPDATE transfers SET status = ?, amount = ?, tx_hash = ?, attempts = ?, updated_at = ? WHERE id = ?",
		string(tr.Status), tr.Amount.Hex(), tr.TxHash, tr.Attempts, tr.UpdatedAt.UnixMilli(), tr.ID,
	)
	return requireOne(res, err, ErrTransferNotFound)
}

// PendingTransfers returns pending transfers that have a chain hash to poll,
// oldest first.
func (s *Store) PendingTransfers(ctx context.Context, limit int) ([]*Transfer, error) {
	rows, err := s.query(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE status = ? AND tx_hash <> '' ORDER BY created_at LIMIT ?",
		string(TransferPending), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

// Transfers returns user's transfers, newest first.
func (s *Store) Transfers(ctx context.Context, user string, limit int) ([]*Transfer, error) {
	rows, err := s.query(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		user, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func collectTransfers(rows *sql.Rows) ([]*Transfer, error) {
	defer rows.Close()
	var out []*Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
