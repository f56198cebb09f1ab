package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"exchange/internal/events"
	"exchange/internal/fault"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

var (
	ErrUnknownCoin    = fault.NewBusiness("coin is not traded")
	ErrInvalidAddress = fault.NewBusiness("invalid withdrawal address")
	ErrInvalidTxHash  = fault.NewBusiness("invalid transaction hash")
	ErrTransferState  = fault.NewBusiness("transfer is not awaiting a hash")
)

func validTxHash(h string) bool {
	b, err := hexutil.Decode(h)
	return err == nil && len(b) == common.HashLength
}

// Credit adds amount of coin to user. It backs confirmed deposits and
// administrative top-ups.
func (e *Engine) Credit(ctx context.Context, user, coin string, amount safemath.SafeUint) error {
	if !e.markets.HasCoin(coin) {
		return ErrUnknownCoin
	}
	if err := checkRange(amount); err != nil {
		return err
	}
	return e.settle(ctx, "credit", func(t *Txn) error {
		return t.ledger.Credit(coin, user, amount)
	})
}

// RequestDeposit records an incoming chain transfer. The user is credited
// only once the transaction confirms, with the value the chain shows rather
// than amount. A hash can back one transfer only.
func (e *Engine) RequestDeposit(ctx context.Context, user, coin string, amount safemath.SafeUint, txHash string) (*store.Transfer, error) {
	if !e.markets.HasCoin(coin) {
		return nil, ErrUnknownCoin
	}
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := checkRange(amount); err != nil {
		return nil, err
	}
	if !validTxHash(txHash) {
		return nil, ErrInvalidTxHash
	}
	tr := &store.Transfer{
		UserID: user,
		Coin:   coin,
		Amount: amount,
		Kind:   store.Deposit,
		TxHash: common.HexToHash(txHash).Hex(),
	}
	err := e.settle(ctx, "request_deposit", func(t *Txn) error {
		if err := t.tx.ClaimTxHash(ctx, tr.TxHash); err != nil {
			return err
		}
		if err := t.tx.InsertTransfer(ctx, tr); err != nil {
			return err
		}
		e.afterTransfer(t, tr)
		return nil
	})
	return tr, err
}

// RequestWithdrawal debits the user now and queues the chain transfer. If it
// later fails the amount is refunded.
func (e *Engine) RequestWithdrawal(ctx context.Context, user, coin string, amount safemath.SafeUint, address string) (*store.Transfer, error) {
	if !e.markets.HasCoin(coin) {
		return nil, ErrUnknownCoin
	}
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := checkRange(amount); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	tr := &store.Transfer{
		UserID:  user,
		Coin:    coin,
		Amount:  amount,
		Kind:    store.Withdrawal,
		Address: common.HexToAddress(address).Hex(),
	}
	err := e.settle(ctx, "request_withdrawal", func(t *Txn) error {
		if err := t.ledger.Debit(coin, user, amount); err != nil {
			return err
		}
		if err := t.tx.InsertTransfer(ctx, tr); err != nil {
			return err
		}
		e.afterTransfer(t, tr)
		return nil
	})
	return tr, err
}

// AttachTxHash records the hash of a broadcast withdrawal so the settler
// can poll it.
func (e *Engine) AttachTxHash(ctx context.Context, id, txHash string) error {
	if !validTxHash(txHash) {
		return ErrInvalidTxHash
	}
	return e.settle(ctx, "attach_tx_hash", func(t *Txn) error {
		tr, err := t.tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != store.TransferPending || tr.TxHash != "" {
			return ErrTransferState
		}
		tr.TxHash = common.HexToHash(txHash).Hex()
		if err := t.tx.ClaimTxHash(ctx, tr.TxHash); err != nil {
			return err
		}
		return t.tx.UpdateTransfer(ctx, tr)
	})
}

// ApplyTransfer settles a chain outcome. A confirmed deposit is credited
// with observed, the value the transaction actually paid in, and fails if
// that is zero. Failed withdrawals are refunded and a pending outcome only
// counts the attempt. Transfers that are already final are left alone, so
// applying the same outcome twice has no further effect.
func (e *Engine) ApplyTransfer(ctx context.Context, id string, status store.TransferStatus, observed safemath.SafeUint) (*store.Transfer, error) {
	var out *store.Transfer
	err := e.settle(ctx, "apply_transfer", func(t *Txn) error {
		tr, err := t.tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		out = tr
		if tr.Status != store.TransferPending {
			return nil
		}

		tr.Attempts++
		if status == store.TransferConfirmed && tr.Kind == store.Deposit && observed.IsZero() {
			status = store.TransferFailed
		}
		switch status {
		case store.TransferConfirmed:
			if tr.Kind == store.Deposit {
				if err := checkRange(observed); err != nil {
					return err
				}
				if err := t.ledger.Credit(tr.Coin, tr.UserID, observed); err != nil {
					return err
				}
				tr.Amount = observed
			}
		case store.TransferFailed:
			if tr.Kind == store.Withdrawal {
				if err := t.ledger.Credit(tr.Coin, tr.UserID, tr.Amount); err != nil {
					return err
				}
			}
		case store.TransferPending:
		default:
			return fault.Criticalf("unknown transfer status %q", status)
		}
		tr.Status = status
		if err := t.tx.UpdateTransfer(ctx, tr); err != nil {
			return err
		}
		if status != store.TransferPending {
			e.afterTransfer(t, tr)
		}
		return nil
	})
	return out, err
}

func (e *Engine) afterTransfer(t *Txn, tr *store.Transfer) {
	snapshot := *tr
	t.OnCommit(func() {
		ev := events.New(events.TransferChanged, "", snapshot)
		ev.User = snapshot.UserID
		e.publish(ev)
	})
}
