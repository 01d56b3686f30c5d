package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// DevClient is the simulation-mode Client for development and tests: it
// fabricates transaction hashes and serves balances from memory. It is only
// ever selected by explicit configuration (CHAIN_MODE=dev), never as a silent
// fallback when chain credentials are missing.
type DevClient struct {
	mu sync.Mutex

	nonce        uint64
	blockNumber  uint64
	confirmAfter int // receipt polls before a receipt appears

	polls       map[string]int
	tokens      map[string]map[string]*big.Int // account -> propertyID -> balance
	stablecoins map[string]*big.Int

	log *logrus.Logger
}

// NewDevClient creates a simulation client whose receipts appear after
// confirmAfter polls (0 means immediately).
func NewDevClient(confirmAfter int, log *logrus.Logger) *DevClient {
	if log == nil {
		log = logrus.New()
	}
	return &DevClient{
		confirmAfter: confirmAfter,
		polls:        make(map[string]int),
		tokens:       make(map[string]map[string]*big.Int),
		stablecoins:  make(map[string]*big.Int),
		log:          log,
	}
}

// SetTokenBalance seeds a property token balance for an account.
func (c *DevClient) SetTokenBalance(account, propertyID string, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens[account] == nil {
		c.tokens[account] = make(map[string]*big.Int)
	}
	c.tokens[account][propertyID] = new(big.Int).Set(balance)
}

// SetStablecoinBalance seeds an EGP balance for an account.
func (c *DevClient) SetStablecoinBalance(account string, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stablecoins[account] = new(big.Int).Set(balance)
}

func (c *DevClient) fabricateHash(method string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.nonce)
	sum := sha256.Sum256(append([]byte(method), buf[:]...))
	hash := common.BytesToHash(sum[:]).Hex()

	c.polls[hash] = 0
	c.log.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": hash,
	}).Debug("simulated transaction submitted")
	return hash
}

func (c *DevClient) SwapTokensForEGP(ctx context.Context, propertyID string, tokenAmountIn, minEGPOut *big.Int) (string, error) {
	return c.fabricateHash("swapTokensForEGP"), nil
}

func (c *DevClient) SwapEGPForTokens(ctx context.Context, propertyID string, egpAmountIn, minTokensOut *big.Int) (string, error) {
	return c.fabricateHash("swapEGPForTokens"), nil
}

func (c *DevClient) AddLiquidity(ctx context.Context, propertyID string, tokenAmount, egpAmount *big.Int) (string, error) {
	return c.fabricateHash("addLiquidity"), nil
}

func (c *DevClient) RemoveLiquidity(ctx context.Context, propertyID string, lpTokens *big.Int) (string, error) {
	return c.fabricateHash("removeLiquidity"), nil
}

func (c *DevClient) TokenBalance(ctx context.Context, account, propertyID string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if balances, ok := c.tokens[account]; ok {
		if b, ok := balances[propertyID]; ok {
			return new(big.Int).Set(b), nil
		}
	}
	return big.NewInt(0), nil
}

func (c *DevClient) StablecoinBalance(ctx context.Context, account string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.stablecoins[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// TransactionReceipt confirms a fabricated transaction after confirmAfter
// polls. Unknown hashes stay pending forever, which exercises the monitor's
// timeout path.
func (c *DevClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	polls, ok := c.polls[txHash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	if polls < c.confirmAfter {
		c.polls[txHash] = polls + 1
		return nil, ErrReceiptNotFound
	}

	c.blockNumber++
	return &Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: c.blockNumber}, nil
}
