package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type dailyClose struct {
	Date  string          `json:"date"`
	Close decimal.Decimal `json:"close"`
}

func (h *Handler) GetQuote(c *gin.Context) {
	quote, err := h.quotes.Lookup(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":        quote.Symbol,
		"name":          quote.Name,
		"price":         quote.Price,
		"price_display": usd(quote.Price),
		"as_of":         quote.AsOf,
	})
}

// GetPriceHistory returns daily closes, oldest first.
func (h *Handler) GetPriceHistory(c *gin.Context) {
	history, err := h.quotes.History(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	closes := make([]dailyClose, 0, len(history))
	for _, p := range history {
		closes = append(closes, dailyClose{
			Date:  p.Timestamp.UTC().Format(time.DateOnly),
			Close: p.Price,
		})
	}
	symbol := ""
	if len(history) > 0 {
		symbol = history[0].Symbol
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "prices": closes})
}
