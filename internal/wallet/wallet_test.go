package wallet

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"exchange/internal/engine"
	"exchange/internal/fault"
	"exchange/internal/market"
	"exchange/internal/safemath"
	"exchange/internal/store"
)

const (
	hashA     = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashB     = "0x2222222222222222222222222222222222222222222222222222222222222222"
	hashC     = "0x3333333333333333333333333333333333333333333333333333333333333333"
	address   = "0x00000000000000000000000000000000000000aa"
	elsewhere = "0x00000000000000000000000000000000000000cc"
	usdc      = "0x00000000000000000000000000000000000000bb"
)

type fakeChain struct {
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	head     uint64
	err      error
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func payment(to string, wei *big.Int) *types.Transaction {
	addr := common.HexToAddress(to)
	return types.NewTx(&types.LegacyTx{To: &addr, Value: wei})
}

func tokenTransfer(to string, units int64) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(usdc),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.HexToAddress(elsewhere).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(units).Bytes(), 32),
	}
}

func confirmerConfig() Config {
	cfg := DefaultConfig()
	cfg.Confirmations = 5
	cfg.DepositAddress = address
	cfg.Tokens = map[string]Token{"usdc": {Address: usdc, Decimals: 6}}
	return cfg
}

func TestEthConfirmerStatus(t *testing.T) {
	chain := &fakeChain{
		head: 110,
		receipts: map[common.Hash]*types.Receipt{
			common.HexToHash(hashA): {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
			common.HexToHash(hashB): {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)},
		},
	}
	c, err := newEthConfirmer(chain, confirmerConfig())
	require.NoError(t, err)
	ctx := context.Background()
	withdrawal := func(hash string) *store.Transfer {
		return &store.Transfer{Kind: store.Withdrawal, Coin: "ETH", TxHash: hash}
	}

	obs, err := c.Observe(ctx, withdrawal(hashA))
	require.NoError(t, err)
	assert.Equal(t, store.TransferConfirmed, obs.Status)

	obs, err = c.Observe(ctx, withdrawal(hashB))
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, obs.Status)

	obs, err = c.Observe(ctx, withdrawal(hashC))
	require.NoError(t, err)
	assert.Equal(t, store.TransferPending, obs.Status, "unknown receipts are still pending")

	c.confirmations = 20
	obs, err = c.Observe(ctx, withdrawal(hashA))
	require.NoError(t, err)
	assert.Equal(t, store.TransferPending, obs.Status, "not deep enough yet")

	chain.err = errors.New("rpc down")
	_, err = c.Observe(ctx, withdrawal(hashA))
	assert.Error(t, err)
}

func TestEthConfirmerReadsDepositValueFromChain(t *testing.T) {
	ok := func(logs ...*types.Log) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100), Logs: logs}
	}
	chain := &fakeChain{
		head: 200,
		receipts: map[common.Hash]*types.Receipt{
			common.HexToHash(hashA): ok(),
			common.HexToHash(hashB): ok(),
			common.HexToHash(hashC): ok(tokenTransfer(address, 2_000_000), tokenTransfer(elsewhere, 5_000_000)),
		},
		txs: map[common.Hash]*types.Transaction{
			common.HexToHash(hashA): payment(address, safemath.MustParseDecimal("1.5").Big()),
			common.HexToHash(hashB): payment(elsewhere, safemath.MustParseDecimal("1000000").Big()),
		},
	}
	c, err := newEthConfirmer(chain, confirmerConfig())
	require.NoError(t, err)
	ctx := context.Background()
	deposit := func(coin, hash string) *store.Transfer {
		// The claimed amount plays no part in what is observed.
		return &store.Transfer{Kind: store.Deposit, Coin: coin, TxHash: hash, Amount: safemath.MustParseDecimal("1000000")}
	}

	obs, err := c.Observe(ctx, deposit("ETH", hashA))
	require.NoError(t, err)
	assert.Equal(t, store.TransferConfirmed, obs.Status)
	assert.True(t, obs.Amount.Equal(safemath.MustParseDecimal("1.5")), "got %s", obs.Amount.FormatDecimal())

	obs, err = c.Observe(ctx, deposit("ETH", hashB))
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, obs.Status, "paid to another address")

	obs, err = c.Observe(ctx, deposit("USDC", hashC))
	require.NoError(t, err)
	assert.Equal(t, store.TransferConfirmed, obs.Status)
	assert.True(t, obs.Amount.Equal(safemath.MustParseDecimal("2")), "6-decimal token scaled, got %s", obs.Amount.FormatDecimal())

	obs, err = c.Observe(ctx, deposit("USDC", hashA))
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, obs.Status, "no token transfer in the receipt")
}

func TestNewEthConfirmerValidatesAddresses(t *testing.T) {
	cfg := confirmerConfig()
	cfg.DepositAddress = ""
	_, err := newEthConfirmer(&fakeChain{}, cfg)
	assert.Error(t, err)

	cfg = confirmerConfig()
	cfg.Tokens["usdc"] = Token{Address: "nope"}
	_, err = newEthConfirmer(&fakeChain{}, cfg)
	assert.Error(t, err)
}

// staticConfirmer answers by transaction hash; unknown hashes are pending.
type staticConfirmer map[string]Observation

func (s staticConfirmer) Observe(_ context.Context, tr *store.Transfer) (Observation, error) {
	if obs, ok := s[tr.TxHash]; ok {
		return obs, nil
	}
	return Observation{Status: store.TransferPending}, nil
}

func confirmed(amount string) Observation {
	return Observation{Status: store.TransferConfirmed, Amount: safemath.MustParseDecimal(amount)}
}

func setup(t *testing.T) (*engine.Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := market.Parse("USDC", "ETH", "")
	require.NoError(t, err)
	eng := engine.New(zaptest.NewLogger(t), st, nil, market.NewRegistry(m), nil, engine.DefaultConfig())
	return eng, st
}

func TestSettlerCreditsConfirmedDepositOnce(t *testing.T) {
	eng, st := setup(t)
	ctx := context.Background()

	dep, err := eng.RequestDeposit(ctx, "alice", "ETH", safemath.MustParseDecimal("2"), hashA)
	require.NoError(t, err)

	s := NewSettler(zaptest.NewLogger(t), st, eng, staticConfirmer{common.HexToHash(hashA).Hex(): confirmed("2")}, DefaultConfig())
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second poll finds nothing pending and applying again is a no-op.
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = eng.ApplyTransfer(ctx, dep.ID, store.TransferConfirmed, safemath.MustParseDecimal("2"))
	require.NoError(t, err)

	bal, err := st.Balance(ctx, "alice", "ETH")
	require.NoError(t, err)
	assert.True(t, bal.Equal(safemath.MustParseDecimal("2")))
}

func TestSettlerRefundsFailedWithdrawal(t *testing.T) {
	eng, st := setup(t)
	ctx := context.Background()
	require.NoError(t, eng.Credit(ctx, "bob", "USDC", safemath.MustParseDecimal("10")))

	wd, err := eng.RequestWithdrawal(ctx, "bob", "USDC", safemath.MustParseDecimal("4"), address)
	require.NoError(t, err)
	bal, _ := st.Balance(ctx, "bob", "USDC")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("6")), "debited on request")

	s := NewSettler(zaptest.NewLogger(t), st, eng, staticConfirmer{common.HexToHash(hashB).Hex(): {Status: store.TransferFailed}}, DefaultConfig())

	// Without a hash the withdrawal is not polled yet.
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, eng.AttachTxHash(ctx, wd.ID, hashB))
	assert.ErrorIs(t, eng.AttachTxHash(ctx, wd.ID, hashA), engine.ErrTransferState)

	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = eng.ApplyTransfer(ctx, wd.ID, store.TransferFailed, safemath.Zero)
	require.NoError(t, err)

	bal, _ = st.Balance(ctx, "bob", "USDC")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("10")), "refunded exactly once")
}

func TestSettlerCreditsObservedAmountNotClaim(t *testing.T) {
	eng, st := setup(t)
	ctx := context.Background()

	dep, err := eng.RequestDeposit(ctx, "mallory", "ETH", safemath.MustParseDecimal("1000000"), hashA)
	require.NoError(t, err)

	s := NewSettler(zaptest.NewLogger(t), st, eng, staticConfirmer{common.HexToHash(hashA).Hex(): confirmed("1")}, DefaultConfig())
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bal, _ := st.Balance(ctx, "mallory", "ETH")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("1")), "got %s", bal.FormatDecimal())
	list, err := st.Transfers(ctx, "mallory", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, dep.ID, list[0].ID)
	assert.True(t, list[0].Amount.Equal(safemath.MustParseDecimal("1")), "history shows what was credited")

	// Confirmed with nothing paid in is a failed deposit.
	other, err := eng.RequestDeposit(ctx, "mallory", "ETH", safemath.MustParseDecimal("5"), hashB)
	require.NoError(t, err)
	got, err := eng.ApplyTransfer(ctx, other.ID, store.TransferConfirmed, safemath.Zero)
	require.NoError(t, err)
	assert.Equal(t, store.TransferFailed, got.Status)
	bal, _ = st.Balance(ctx, "mallory", "ETH")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("1")))
}

func TestDepositHashCannotBeClaimedTwice(t *testing.T) {
	eng, st := setup(t)
	ctx := context.Background()
	claim := safemath.MustParseDecimal("1000000")

	dep, err := eng.RequestDeposit(ctx, "mallory", "ETH", claim, hashA)
	require.NoError(t, err)
	_, err = eng.RequestDeposit(ctx, "mallory", "ETH", claim, hashA)
	assert.ErrorIs(t, err, store.ErrTxHashClaimed)
	assert.True(t, fault.IsBusiness(err))
	_, err = eng.RequestDeposit(ctx, "eve", "ETH", claim, hashA)
	assert.ErrorIs(t, err, store.ErrTxHashClaimed, "another user cannot claim it either")

	require.NoError(t, eng.Credit(ctx, "mallory", "USDC", safemath.MustParseDecimal("10")))
	wd, err := eng.RequestWithdrawal(ctx, "mallory", "USDC", safemath.MustParseDecimal("1"), address)
	require.NoError(t, err)
	assert.ErrorIs(t, eng.AttachTxHash(ctx, wd.ID, hashA), store.ErrTxHashClaimed)

	_, err = eng.ApplyTransfer(ctx, dep.ID, store.TransferConfirmed, safemath.MustParseDecimal("1"))
	require.NoError(t, err)
	_, err = eng.ApplyTransfer(ctx, dep.ID, store.TransferConfirmed, safemath.MustParseDecimal("1"))
	require.NoError(t, err)

	bal, _ := st.Balance(ctx, "mallory", "ETH")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("1")), "got %s", bal.FormatDecimal())
}

// stoppingConfirmer cancels the poll while the chain answer is in flight.
type stoppingConfirmer struct {
	Confirmer
	stop context.CancelFunc
}

func (s stoppingConfirmer) Observe(ctx context.Context, tr *store.Transfer) (Observation, error) {
	s.stop()
	return s.Confirmer.Observe(ctx, tr)
}

func TestSettlerCommitsObservedOutcomeWhenStopped(t *testing.T) {
	eng, st := setup(t)
	_, err := eng.RequestDeposit(context.Background(), "alice", "ETH", safemath.MustParseDecimal("2"), hashA)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := stoppingConfirmer{Confirmer: staticConfirmer{common.HexToHash(hashA).Hex(): confirmed("2")}, stop: cancel}
	s := NewSettler(zaptest.NewLogger(t), st, eng, c, DefaultConfig())

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	bal, _ := st.Balance(context.Background(), "alice", "ETH")
	assert.True(t, bal.Equal(safemath.MustParseDecimal("2")))
}

func TestSettlerGivesUpAfterMaxAttempts(t *testing.T) {
	eng, st := setup(t)
	ctx := context.Background()

	_, err := eng.RequestDeposit(ctx, "alice", "ETH", safemath.MustParseDecimal("1"), hashA)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	s := NewSettler(zaptest.NewLogger(t), st, eng, staticConfirmer{}, cfg)

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := st.Transfers(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.TransferFailed, list[0].Status)
	assert.Equal(t, 2, list[0].Attempts)

	bal, _ := st.Balance(ctx, "alice", "ETH")
	assert.True(t, bal.IsZero())
}

func TestRequestValidation(t *testing.T) {
	eng, _ := setup(t)
	ctx := context.Background()
	one := safemath.MustParseDecimal("1")

	_, err := eng.RequestWithdrawal(ctx, "bob", "USDC", one, "not-an-address")
	assert.ErrorIs(t, err, engine.ErrInvalidAddress)
	_, err = eng.RequestDeposit(ctx, "bob", "DOGE", one, hashA)
	assert.ErrorIs(t, err, engine.ErrUnknownCoin)
	_, err = eng.RequestDeposit(ctx, "bob", "ETH", one, "0x12")
	assert.ErrorIs(t, err, engine.ErrInvalidTxHash)
}
