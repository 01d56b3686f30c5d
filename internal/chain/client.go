// Package chain abstracts the blockchain node behind a narrow client
// interface. Every other component depends on Client, never on a concrete
// RPC library, so the RPC-backed and simulation implementations are
// interchangeable at wiring time.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ErrReceiptNotFound is returned while a submitted transaction has no receipt
// yet. Not a failure: the transaction may still be pending in the mempool.
var ErrReceiptNotFound = errors.New("chain: transaction receipt not found")

// Receipt is the subset of an on-chain transaction receipt the ledger needs.
type Receipt struct {
	Status      uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Client is the boundary to the on-chain exchange and stablecoin contracts.
// All methods are read-only except the four submit calls, which return the
// transaction hash; confirmation is observed separately via TransactionReceipt.
type Client interface {
	SwapTokensForEGP(ctx context.Context, propertyID string, tokenAmountIn, minEGPOut *big.Int) (string, error)
	SwapEGPForTokens(ctx context.Context, propertyID string, egpAmountIn, minTokensOut *big.Int) (string, error)
	AddLiquidity(ctx context.Context, propertyID string, tokenAmount, egpAmount *big.Int) (string, error)
	RemoveLiquidity(ctx context.Context, propertyID string, lpTokens *big.Int) (string, error)

	// TokenBalance reads the caller's property-scoped token balance from the
	// multi-asset token contract (ERC-1155 style balanceOf(account, id)).
	TokenBalance(ctx context.Context, account, propertyID string) (*big.Int, error)
	// StablecoinBalance reads the caller's EGP stablecoin balance.
	StablecoinBalance(ctx context.Context, account string) (*big.Int, error)

	// TransactionReceipt returns ErrReceiptNotFound while the transaction is
	// still unconfirmed.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

const exchangeABI = `[
	{"name":"swapTokensForEGP","type":"function","inputs":[{"name":"propertyId","type":"uint256"},{"name":"tokenAmountIn","type":"uint256"},{"name":"minEgpOut","type":"uint256"}],"outputs":[]},
	{"name":"swapEGPForTokens","type":"function","inputs":[{"name":"propertyId","type":"uint256"},{"name":"egpAmountIn","type":"uint256"},{"name":"minTokensOut","type":"uint256"}],"outputs":[]},
	{"name":"addLiquidity","type":"function","inputs":[{"name":"propertyId","type":"uint256"},{"name":"tokenAmount","type":"uint256"},{"name":"egpAmount","type":"uint256"}],"outputs":[]},
	{"name":"removeLiquidity","type":"function","inputs":[{"name":"propertyId","type":"uint256"},{"name":"lpTokens","type":"uint256"}],"outputs":[]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const stablecoinABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// RPCConfig holds the connection and signing parameters for the RPC client.
type RPCConfig struct {
	RPCURL            string
	ExchangeAddress   string
	StablecoinAddress string
	PrivateKey        string
	ChainID           int64
}

// RPCClient implements Client against a real node via go-ethereum.
type RPCClient struct {
	eth        *ethclient.Client
	exchange   *bind.BoundContract
	stablecoin *bind.BoundContract
	opts       *bind.TransactOpts
	log        *logrus.Logger
}

// NewRPCClient dials the node and binds the exchange and stablecoin contracts.
func NewRPCClient(cfg RPCConfig, log *logrus.Logger) (*RPCClient, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc node: %w", err)
	}

	exchangeParsed, err := abi.JSON(strings.NewReader(exchangeABI))
	if err != nil {
		return nil, fmt.Errorf("parse exchange abi: %w", err)
	}
	stablecoinParsed, err := abi.JSON(strings.NewReader(stablecoinABI))
	if err != nil {
		return nil, fmt.Errorf("parse stablecoin abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	return &RPCClient{
		eth:        eth,
		exchange:   bind.NewBoundContract(common.HexToAddress(cfg.ExchangeAddress), exchangeParsed, eth, eth, eth),
		stablecoin: bind.NewBoundContract(common.HexToAddress(cfg.StablecoinAddress), stablecoinParsed, eth, eth, eth),
		opts:       opts,
		log:        log,
	}, nil
}

func propertyTokenID(propertyID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(propertyID, 10)
	if !ok {
		return nil, fmt.Errorf("chain: invalid property id %q", propertyID)
	}
	return id, nil
}

func (c *RPCClient) submit(ctx context.Context, method string, args ...interface{}) (string, error) {
	opts := *c.opts
	opts.Context = ctx

	tx, err := c.exchange.Transact(&opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", method, err)
	}

	c.log.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": tx.Hash().Hex(),
	}).Info("transaction submitted")
	return tx.Hash().Hex(), nil
}

func (c *RPCClient) SwapTokensForEGP(ctx context.Context, propertyID string, tokenAmountIn, minEGPOut *big.Int) (string, error) {
	id, err := propertyTokenID(propertyID)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "swapTokensForEGP", id, tokenAmountIn, minEGPOut)
}

func (c *RPCClient) SwapEGPForTokens(ctx context.Context, propertyID string, egpAmountIn, minTokensOut *big.Int) (string, error) {
	id, err := propertyTokenID(propertyID)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "swapEGPForTokens", id, egpAmountIn, minTokensOut)
}

func (c *RPCClient) AddLiquidity(ctx context.Context, propertyID string, tokenAmount, egpAmount *big.Int) (string, error) {
	id, err := propertyTokenID(propertyID)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "addLiquidity", id, tokenAmount, egpAmount)
}

func (c *RPCClient) RemoveLiquidity(ctx context.Context, propertyID string, lpTokens *big.Int) (string, error) {
	id, err := propertyTokenID(propertyID)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "removeLiquidity", id, lpTokens)
}

func (c *RPCClient) TokenBalance(ctx context.Context, account, propertyID string) (*big.Int, error) {
	id, err := propertyTokenID(propertyID)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	err = c.exchange.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(account), id)
	if err != nil {
		return nil, fmt.Errorf("token balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (c *RPCClient) StablecoinBalance(ctx context.Context, account string) (*big.Int, error) {
	var out []interface{}
	err := c.stablecoin.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("stablecoin balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	return &Receipt{Status: r.Status, BlockNumber: r.BlockNumber.Uint64()}, nil
}
