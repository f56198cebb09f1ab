// Package ledger caches balances for the duration of one store transaction.
//
// Every balance is read under a row lock before it is touched, mutations are
// kept in memory, and Flush writes each changed balance exactly once before
// commit. A rolled-back transaction simply drops its Ledger.
package ledger

import (
	"context"
	"sort"

	"exchange/internal/fault"
	"exchange/internal/safemath"
)

// Store is the locking balance access a Ledger needs.
type Store interface {
	// LockBalance reads and locks a balance, creating a zero row if needed.
	LockBalance(ctx context.Context, user, coin string) (safemath.SafeUint, error)
	WriteBalance(ctx context.Context, user, coin string, value safemath.SafeUint) error
}

type Key struct {
	User string
	Coin string
}

var ErrUncached = fault.NewCritical("update uncached balance")

type Ledger struct {
	ctx   context.Context
	store Store
	clean map[Key]safemath.SafeUint
	dirty map[Key]safemath.SafeUint
}

// New creates an empty ledger. ctx is used for the lazy locking reads.
func New(ctx context.Context, store Store) *Ledger {
	return &Ledger{
		ctx:   ctx,
		store: store,
		clean: make(map[Key]safemath.SafeUint),
		dirty: make(map[Key]safemath.SafeUint),
	}
}

// Balance returns the current balance of coin for user.
func (l *Ledger) Balance(coin, user string) (safemath.SafeUint, error) {
	k := Key{User: user, Coin: coin}
	if v, ok := l.dirty[k]; ok {
		return v, nil
	}
	if v, ok := l.clean[k]; ok {
		return v, nil
	}
	v, err := l.store.LockBalance(l.ctx, user, coin)
	if err != nil {
		return safemath.SafeUint{}, err
	}
	l.clean[k] = v
	return v, nil
}

// Update sets a balance that was read earlier in this transaction.
func (l *Ledger) Update(coin, user string, value safemath.SafeUint) error {
	k := Key{User: user, Coin: coin}
	orig, ok := l.clean[k]
	if !ok {
		return fault.Wrap(fault.Critical, ErrUncached, user+"/"+coin)
	}
	if value.Equal(orig) {
		delete(l.dirty, k)
		return nil
	}
	l.dirty[k] = value
	return nil
}

// Credit fails with safemath.ErrTooLarge rather than store a balance above
// 256 bits.
func (l *Ledger) Credit(coin, user string, amount safemath.SafeUint) error {
	bal, err := l.Balance(coin, user)
	if err != nil {
		return err
	}
	next := bal.Add(amount)
	if !next.Fits256() {
		return safemath.ErrTooLarge
	}
	return l.Update(coin, user, next)
}

// Debit fails with fault.ErrInsufficientBalance when the balance is too low.
func (l *Ledger) Debit(coin, user string, amount safemath.SafeUint) error {
	bal, err := l.Balance(coin, user)
	if err != nil {
		return err
	}
	if bal.Less(amount) {
		return fault.ErrInsufficientBalance
	}
	next, err := bal.Sub(amount)
	if err != nil {
		return err
	}
	return l.Update(coin, user, next)
}

// DebitUnsafe is for system corrections that must already be covered; a
// shortfall is a broken invariant rather than a user error.
func (l *Ledger) DebitUnsafe(coin, user string, amount safemath.SafeUint) error {
	bal, err := l.Balance(coin, user)
	if err != nil {
		return err
	}
	next, err := bal.SubWith(amount, "system debit of "+coin+" exceeds balance of "+user, true)
	if err != nil {
		return err
	}
	return l.Update(coin, user, next)
}

// Dirty returns the number of balances waiting to be written.
func (l *Ledger) Dirty() int {
	return len(l.dirty)
}

// Changes returns pending writes in flush order.
func (l *Ledger) Changes() []Key {
	keys := make([]Key, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].User != keys[j].User {
			return keys[i].User < keys[j].User
		}
		return keys[i].Coin < keys[j].Coin
	})
	return keys
}

// Flush writes every dirty balance once and marks it clean.
func (l *Ledger) Flush(ctx context.Context) error {
	for _, k := range l.Changes() {
		v := l.dirty[k]
		if err := l.store.WriteBalance(ctx, k.User, k.Coin, v); err != nil {
			return err
		}
		l.clean[k] = v
		delete(l.dirty, k)
	}
	return nil
}
