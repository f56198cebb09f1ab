// Package wallet finalizes on-chain deposits and withdrawals. Only the lead
// node runs it.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"exchange/internal/safemath"
	"exchange/internal/store"
)

// Observation is what the chain shows for a transfer's transaction.
type Observation struct {
	Status store.TransferStatus
	// Amount is what a deposit paid to the exchange in the transfer's coin,
	// scaled to 18 decimals. Withdrawals leave it zero.
	Amount safemath.SafeUint
}

// Confirmer reports the chain outcome of a transfer.
type Confirmer interface {
	Observe(ctx context.Context, tr *store.Transfer) (Observation, error)
}

type chainReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Token is an ERC-20 contract backing a coin.
type Token struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EthConfirmer reads receipts from an Ethereum JSON-RPC endpoint. A
// transaction counts as final once it is Confirmations blocks deep. Deposits
// are credited with what the transaction paid to the deposit address: the
// call value for the native coin, Transfer logs for tokens.
type EthConfirmer struct {
	client        chainReader
	confirmations uint64
	depositTo     common.Address
	native        string
	tokens        map[string]token
}

type token struct {
	contract common.Address
	scale    *big.Int
}

func DialEth(ctx context.Context, cfg Config) (*EthConfirmer, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	c, err := newEthConfirmer(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

func newEthConfirmer(client chainReader, cfg Config) (*EthConfirmer, error) {
	if !common.IsHexAddress(cfg.DepositAddress) {
		return nil, fmt.Errorf("wallet deposit address %q is not a hex address", cfg.DepositAddress)
	}
	c := &EthConfirmer{
		client:        client,
		confirmations: cfg.Confirmations,
		depositTo:     common.HexToAddress(cfg.DepositAddress),
		native:        strings.ToUpper(cfg.NativeCoin),
		tokens:        make(map[string]token, len(cfg.Tokens)),
	}
	// Config keys arrive lowercased; coins are upper case.
	for coin, t := range cfg.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("token %s address %q is not a hex address", coin, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > safemath.Decimals {
			return nil, fmt.Errorf("token %s has %d decimals", coin, t.Decimals)
		}
		c.tokens[strings.ToUpper(coin)] = token{
			contract: common.HexToAddress(t.Address),
			scale:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(safemath.Decimals-t.Decimals)), nil),
		}
	}
	return c, nil
}

func (c *EthConfirmer) Observe(ctx context.Context, tr *store.Transfer) (Observation, error) {
	hash := common.HexToHash(tr.TxHash)
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Observation{Status: store.TransferPending}, nil
	}
	if err != nil {
		return Observation{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Observation{Status: store.TransferFailed}, nil
	}
	if c.confirmations > 0 && receipt.BlockNumber != nil {
		head, err := c.client.BlockNumber(ctx)
		if err != nil {
			return Observation{}, err
		}
		if head < receipt.BlockNumber.Uint64()+c.confirmations {
			return Observation{Status: store.TransferPending}, nil
		}
	}
	if tr.Kind != store.Deposit {
		return Observation{Status: store.TransferConfirmed}, nil
	}

	paid, err := c.paid(ctx, tr.Coin, hash, receipt)
	if err != nil {
		return Observation{}, err
	}
	if paid.IsZero() {
		return Observation{Status: store.TransferFailed}, nil
	}
	return Observation{Status: store.TransferConfirmed, Amount: paid}, nil
}

// paid sums what the transaction moved to the deposit address in coin.
func (c *EthConfirmer) paid(ctx context.Context, coin string, hash common.Hash, receipt *types.Receipt) (safemath.SafeUint, error) {
	if coin == c.native {
		tx, _, err := c.client.TransactionByHash(ctx, hash)
		if err != nil {
			return safemath.Zero, err
		}
		if tx.To() == nil || *tx.To() != c.depositTo {
			return safemath.Zero, nil
		}
		return safemath.FromBig(tx.Value()), nil
	}

	tok, ok := c.tokens[coin]
	if !ok {
		return safemath.Zero, nil
	}
	total := new(big.Int)
	for _, l := range receipt.Logs {
		if l.Address != tok.contract || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != c.depositTo {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return safemath.FromBig(total.Mul(total, tok.scale)), nil
}
