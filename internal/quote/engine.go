// Package quote computes swap previews against a pool reserve snapshot.
// All reserve math is integer arithmetic on base units, matching the exchange
// contract's order of operations bit-for-bit: the fee is deducted from the
// input before it enters the constant-product ratio, and every division
// truncates. Derived prices are decimals for display only and never feed back
// into reserve math.
package quote

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Fee tier is fixed at 30 basis points of 10,000, as in the exchange contract.
const (
	FeeBps         = 30
	BpsDenominator = 10_000
)

var (
	ErrInvalidAmount   = errors.New("quote: amount in must be positive")
	ErrInvalidReserves = errors.New("quote: pool reserves must be positive")
	ErrAmountTooSmall  = errors.New("quote: amount too small, output rounds to zero")
)

// Direction of a swap relative to the property token.
type Direction string

const (
	DirectionBuy  Direction = "BUY"  // EGP in, property tokens out
	DirectionSell Direction = "SELL" // property tokens in, EGP out
)

// Snapshot is an immutable view of a pool's reserves in integer base units.
type Snapshot struct {
	TokenReserve *big.Int
	EGPReserve   *big.Int
}

// Quote is the result of pricing a hypothetical trade. AmountOut and
// FeeAmount are base units; FeeAmount is denominated in the input asset.
// Prices are EGP per property token; PriceImpact is an absolute percentage.
type Quote struct {
	Direction      Direction
	AmountIn       *big.Int
	AmountOut      *big.Int
	FeeAmount      *big.Int
	ExecutionPrice decimal.Decimal
	CurrentPrice   decimal.Decimal
	PriceImpact    decimal.Decimal
}

// Compute prices amountIn against the snapshot. Pure and side-effect free;
// safe to call concurrently and repeatedly for previews.
func Compute(snap Snapshot, dir Direction, amountIn *big.Int) (*Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if snap.TokenReserve == nil || snap.EGPReserve == nil ||
		snap.TokenReserve.Sign() <= 0 || snap.EGPReserve.Sign() <= 0 {
		return nil, ErrInvalidReserves
	}

	bpsDenom := big.NewInt(BpsDenominator)

	// amountInAfterFee = amountIn * (10000 - 30) / 10000, truncating
	afterFee := new(big.Int).Mul(amountIn, big.NewInt(BpsDenominator-FeeBps))
	afterFee.Quo(afterFee, bpsDenom)

	// fee = amountIn * 30 / 10000, truncating
	fee := new(big.Int).Mul(amountIn, big.NewInt(FeeBps))
	fee.Quo(fee, bpsDenom)

	var reserveIn, reserveOut *big.Int
	switch dir {
	case DirectionSell:
		reserveIn, reserveOut = snap.TokenReserve, snap.EGPReserve
	case DirectionBuy:
		reserveIn, reserveOut = snap.EGPReserve, snap.TokenReserve
	default:
		return nil, ErrInvalidAmount
	}

	// amountOut = (afterFee * reserveOut) / (reserveIn + afterFee), truncating
	numerator := new(big.Int).Mul(afterFee, reserveOut)
	denominator := new(big.Int).Add(reserveIn, afterFee)
	amountOut := new(big.Int).Quo(numerator, denominator)

	if amountOut.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}

	in := decimal.NewFromBigInt(amountIn, 0)
	out := decimal.NewFromBigInt(amountOut, 0)

	// Execution price is always EGP per token, regardless of direction.
	var execPrice decimal.Decimal
	if dir == DirectionSell {
		execPrice = out.Div(in)
	} else {
		execPrice = in.Div(out)
	}

	currentPrice := decimal.NewFromBigInt(snap.EGPReserve, 0).
		Div(decimal.NewFromBigInt(snap.TokenReserve, 0))

	priceImpact := execPrice.Sub(currentPrice).
		Div(currentPrice).
		Mul(decimal.NewFromInt(100)).
		Abs()

	return &Quote{
		Direction:      dir,
		AmountIn:       new(big.Int).Set(amountIn),
		AmountOut:      amountOut,
		FeeAmount:      fee,
		ExecutionPrice: execPrice,
		CurrentPrice:   currentPrice,
		PriceImpact:    priceImpact,
	}, nil
}
