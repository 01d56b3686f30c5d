package swap

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/quote"
)

// QuoteRequest asks for a swap preview against the current mirror snapshot.
type QuoteRequest struct {
	PoolID    string          `json:"pool_id" binding:"required"`
	Direction string          `json:"direction" binding:"required"`
	AmountIn  decimal.Decimal `json:"amount_in" binding:"required"`
}

// QuoteResponse is the JSON shape of a quote preview.
type QuoteResponse struct {
	Direction      string          `json:"direction"`
	AmountIn       string          `json:"amount_in"`
	AmountOut      string          `json:"amount_out"`
	FeeAmount      string          `json:"fee_amount"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
}

// Handler exposes quote previews and trade status lookups.
type Handler struct {
	executor *Executor
}

func NewHandler(executor *Executor) *Handler {
	return &Handler{executor: executor}
}

func (h *Handler) GetQuote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dir := quote.Direction(req.Direction)
	if dir != quote.DirectionBuy && dir != quote.DirectionSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be BUY or SELL"})
		return
	}

	q, err := h.executor.GetQuote(c.Request.Context(), req.PoolID, dir, req.AmountIn)
	if err != nil {
		switch {
		case errors.Is(err, amm.ErrPoolNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, amm.ErrPoolInactive),
			errors.Is(err, quote.ErrInvalidAmount),
			errors.Is(err, quote.ErrInvalidReserves),
			errors.Is(err, quote.ErrAmountTooSmall):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		Direction:      string(q.Direction),
		AmountIn:       q.AmountIn.String(),
		AmountOut:      q.AmountOut.String(),
		FeeAmount:      q.FeeAmount.String(),
		ExecutionPrice: q.ExecutionPrice,
		CurrentPrice:   q.CurrentPrice,
		PriceImpact:    q.PriceImpact,
	})
}

// GetTrade serves trade status polling: callers of a timed-out swap check
// back here until reconciliation reaches a terminal status.
func (h *Handler) GetTrade(c *gin.Context) {
	txHash := c.Param("tx_hash")

	t, err := h.executor.GetTrade(c.Request.Context(), txHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		return
	}

	c.JSON(http.StatusOK, t)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/swap/quote", h.GetQuote)
	router.GET("/trades/:tx_hash", h.GetTrade)
}
