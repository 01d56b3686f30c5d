package chain

import (
	"context"
	"fmt"
	"math/big"
)

// InsufficientBalanceError reports a failed pre-flight balance check.
type InsufficientBalanceError struct {
	Asset string
	Have  *big.Int
	Need  *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s", e.Asset, e.Have, e.Need)
}

// BalanceVerifier checks that an account holds enough on-chain balance before
// any chain-mutating call is issued. It reads the authoritative chain state,
// never the off-chain mirror, which may be stale.
type BalanceVerifier struct {
	client Client
}

// NewBalanceVerifier creates a verifier backed by the given client.
func NewBalanceVerifier(client Client) *BalanceVerifier {
	return &BalanceVerifier{client: client}
}

// VerifyToken checks the account's property token balance.
func (v *BalanceVerifier) VerifyToken(ctx context.Context, account, propertyID string, need *big.Int) error {
	have, err := v.client.TokenBalance(ctx, account, propertyID)
	if err != nil {
		return fmt.Errorf("read token balance: %w", err)
	}
	if have.Cmp(need) < 0 {
		return &InsufficientBalanceError{Asset: "property token", Have: have, Need: need}
	}
	return nil
}

// VerifyStablecoin checks the account's EGP stablecoin balance.
func (v *BalanceVerifier) VerifyStablecoin(ctx context.Context, account string, need *big.Int) error {
	have, err := v.client.StablecoinBalance(ctx, account)
	if err != nil {
		return fmt.Errorf("read stablecoin balance: %w", err)
	}
	if have.Cmp(need) < 0 {
		return &InsufficientBalanceError{Asset: "EGP", Have: have, Need: need}
	}
	return nil
}
