package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange/internal/fault"
	"exchange/internal/safemath"
)

type write struct {
	key   Key
	value safemath.SafeUint
}

type memStore struct {
	rows   map[Key]safemath.SafeUint
	reads  int
	writes []write
	failOn string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[Key]safemath.SafeUint)}
}

func (m *memStore) LockBalance(_ context.Context, user, coin string) (safemath.SafeUint, error) {
	m.reads++
	k := Key{User: user, Coin: coin}
	v, ok := m.rows[k]
	if !ok {
		m.rows[k] = safemath.Zero
		return safemath.Zero, nil
	}
	return v, nil
}

func (m *memStore) WriteBalance(_ context.Context, user, coin string, v safemath.SafeUint) error {
	if coin == m.failOn {
		return errors.New("disk full")
	}
	k := Key{User: user, Coin: coin}
	m.rows[k] = v
	m.writes = append(m.writes, write{key: k, value: v})
	return nil
}

func n(x uint64) safemath.SafeUint {
	return safemath.FromUint64(x)
}

func TestBalanceIsReadOnce(t *testing.T) {
	st := newMemStore()
	st.rows[Key{"alice", "ETH"}] = n(10)
	l := New(context.Background(), st)

	for i := 0; i < 3; i++ {
		v, err := l.Balance("ETH", "alice")
		require.NoError(t, err)
		assert.True(t, v.Equal(n(10)))
	}
	assert.Equal(t, 1, st.reads)
}

func TestMissingBalanceIsZero(t *testing.T) {
	st := newMemStore()
	l := New(context.Background(), st)

	v, err := l.Balance("ETH", "bob")
	require.NoError(t, err)
	assert.True(t, v.IsZero())
	_, created := st.rows[Key{"bob", "ETH"}]
	assert.True(t, created, "locking read creates the row")
}

func TestUpdateUncached(t *testing.T) {
	l := New(context.Background(), newMemStore())
	err := l.Update("ETH", "alice", n(1))
	assert.True(t, fault.IsCritical(err))
	assert.ErrorIs(t, err, ErrUncached)
}

func TestUpdateToOriginalClearsDirty(t *testing.T) {
	st := newMemStore()
	st.rows[Key{"alice", "ETH"}] = n(10)
	l := New(context.Background(), st)

	require.NoError(t, l.Credit("ETH", "alice", n(5)))
	assert.Equal(t, 1, l.Dirty())

	require.NoError(t, l.Update("ETH", "alice", n(10)))
	assert.Equal(t, 0, l.Dirty())

	require.NoError(t, l.Flush(context.Background()))
	assert.Empty(t, st.writes, "no write for an unchanged balance")
}

func TestDebitInsufficient(t *testing.T) {
	st := newMemStore()
	st.rows[Key{"alice", "ETH"}] = n(3)
	l := New(context.Background(), st)

	err := l.Debit("ETH", "alice", n(4))
	assert.ErrorIs(t, err, fault.ErrInsufficientBalance)
	assert.True(t, fault.IsBusiness(err))

	v, _ := l.Balance("ETH", "alice")
	assert.True(t, v.Equal(n(3)))
}

func TestCreditBeyond256BitsRejected(t *testing.T) {
	st := newMemStore()
	top := safemath.FromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))
	st.rows[Key{"alice", "ETH"}] = top
	l := New(context.Background(), st)

	err := l.Credit("ETH", "alice", n(1))
	assert.ErrorIs(t, err, safemath.ErrTooLarge)
	assert.True(t, fault.IsBusiness(err))
	v, _ := l.Balance("ETH", "alice")
	assert.True(t, v.Equal(top))
}

func TestDebitUnsafeShortfallIsCritical(t *testing.T) {
	l := New(context.Background(), newMemStore())
	err := l.DebitUnsafe("ETH", "alice", n(1))
	assert.True(t, fault.IsCritical(err))
}

func TestFlushNetEffect(t *testing.T) {
	st := newMemStore()
	st.rows[Key{"bob", "USDC"}] = n(100)
	l := New(context.Background(), st)

	require.NoError(t, l.Debit("USDC", "bob", n(30)))
	require.NoError(t, l.Credit("ETH", "bob", n(2)))
	require.NoError(t, l.Credit("USDC", "alice", n(30)))
	require.NoError(t, l.Credit("USDC", "bob", n(5)))

	require.NoError(t, l.Flush(context.Background()))

	require.Len(t, st.writes, 3)
	assert.Equal(t, Key{"alice", "USDC"}, st.writes[0].key)
	assert.Equal(t, Key{"bob", "ETH"}, st.writes[1].key)
	assert.Equal(t, Key{"bob", "USDC"}, st.writes[2].key)
	assert.True(t, st.rows[Key{"bob", "USDC"}].Equal(n(75)))
	assert.Equal(t, 0, l.Dirty())

	// A second flush has nothing to do.
	require.NoError(t, l.Flush(context.Background()))
	assert.Len(t, st.writes, 3)
}

func TestFlushError(t *testing.T) {
	st := newMemStore()
	st.failOn = "ETH"
	l := New(context.Background(), st)

	require.NoError(t, l.Credit("ETH", "alice", n(1)))
	assert.Error(t, l.Flush(context.Background()))
}
