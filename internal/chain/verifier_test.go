package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount  = "0x1111111111111111111111111111111111111111"
	testProperty = "42"
)

func TestVerifyTokenSufficient(t *testing.T) {
	client := NewDevClient(0, nil)
	client.SetTokenBalance(testAccount, testProperty, big.NewInt(1_000))
	v := NewBalanceVerifier(client)

	assert.NoError(t, v.VerifyToken(context.Background(), testAccount, testProperty, big.NewInt(1_000)))
	assert.NoError(t, v.VerifyToken(context.Background(), testAccount, testProperty, big.NewInt(999)))
}

func TestVerifyTokenInsufficient(t *testing.T) {
	client := NewDevClient(0, nil)
	client.SetTokenBalance(testAccount, testProperty, big.NewInt(500))
	v := NewBalanceVerifier(client)

	err := v.VerifyToken(context.Background(), testAccount, testProperty, big.NewInt(501))
	require.Error(t, err)

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, big.NewInt(500), insufficient.Have)
	assert.Equal(t, big.NewInt(501), insufficient.Need)
}

func TestVerifyStablecoin(t *testing.T) {
	client := NewDevClient(0, nil)
	client.SetStablecoinBalance(testAccount, big.NewInt(2_000_000))
	v := NewBalanceVerifier(client)

	assert.NoError(t, v.VerifyStablecoin(context.Background(), testAccount, big.NewInt(2_000_000)))

	err := v.VerifyStablecoin(context.Background(), testAccount, big.NewInt(2_000_001))
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "EGP", insufficient.Asset)
}

func TestVerifyUnknownAccountHasZeroBalance(t *testing.T) {
	v := NewBalanceVerifier(NewDevClient(0, nil))

	err := v.VerifyStablecoin(context.Background(), "0x2222222222222222222222222222222222222222", big.NewInt(1))
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Have.Int64())
}

func TestDevClientReceiptLifecycle(t *testing.T) {
	client := NewDevClient(2, nil)

	hash, err := client.SwapTokensForEGP(context.Background(), testProperty, big.NewInt(10), big.NewInt(1))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	// Two polls come back empty before the receipt appears.
	_, err = client.TransactionReceipt(context.Background(), hash)
	assert.ErrorIs(t, err, ErrReceiptNotFound)
	_, err = client.TransactionReceipt(context.Background(), hash)
	assert.ErrorIs(t, err, ErrReceiptNotFound)

	receipt, err := client.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())

	// Unknown hashes stay pending forever.
	_, err = client.TransactionReceipt(context.Background(), "0xunknown")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestDevClientFabricatesUniqueHashes(t *testing.T) {
	client := NewDevClient(0, nil)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		hash, err := client.AddLiquidity(context.Background(), testProperty, big.NewInt(1), big.NewInt(1))
		require.NoError(t, err)
		assert.False(t, seen[hash], "duplicate fabricated hash %s", hash)
		seen[hash] = true
	}
}
