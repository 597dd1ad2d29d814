package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stocks-simulator/models"
)

type TradeInput struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares int    `json:"shares" binding:"required,gt=0"`
}

type tradeResponse struct {
	Transaction  models.Transaction `json:"transaction"`
	Side         string             `json:"side"`
	Total        string             `json:"total"`
	TotalDisplay string             `json:"total_display"`
	PriceDisplay string             `json:"price_display"`
}

func newTradeResponse(txn models.Transaction, shares int) tradeResponse {
	total := txn.Price.Mul(decimalFromInt(shares))
	return tradeResponse{
		Transaction:  txn,
		Side:         txn.Side(),
		Total:        total.StringFixed(2),
		TotalDisplay: usd(total),
		PriceDisplay: usd(txn.Price),
	}
}

// Buy prices the order at the current quote and debits the account.
func (h *Handler) Buy(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.quotes.Lookup(ctx, input.Symbol)
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	txn, err := h.ledger.Buy(ctx, id, quote.Symbol, input.Shares, quote.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTradeResponse(txn, input.Shares))
}

// Sell prices the order at the current quote and credits the account.
func (h *Handler) Sell(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.quotes.Lookup(ctx, input.Symbol)
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	txn, err := h.ledger.Sell(ctx, id, quote.Symbol, input.Shares, quote.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTradeResponse(txn, input.Shares))
}

// SellableSymbols lists the symbols the account can currently sell.
func (h *Handler) SellableSymbols(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	holdings, err := h.ledger.Holdings(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	symbols := make([]string, 0, len(holdings))
	for _, holding := range holdings {
		symbols = append(symbols, holding.Symbol)
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}
