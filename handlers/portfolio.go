package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stocks-simulator/models"
)

type position struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Shares       int             `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Value        decimal.Decimal `json:"value"`
	PriceDisplay string          `json:"price_display"`
	ValueDisplay string          `json:"value_display"`
}

type portfolioResponse struct {
	Username     string          `json:"username"`
	Cash         decimal.Decimal `json:"cash"`
	CashDisplay  string          `json:"cash_display"`
	Positions    []position      `json:"positions"`
	Total        decimal.Decimal `json:"total"`
	TotalDisplay string          `json:"total_display"`
}

type historyEntry struct {
	models.Transaction
	Side         string `json:"side"`
	PriceDisplay string `json:"price_display"`
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// GetPortfolio values every holding at its current price and adds cash for
// the grand total.
func (h *Handler) GetPortfolio(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	account, err := h.ledger.Account(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	holdings, err := h.ledger.Holdings(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	total := account.Cash
	positions := make([]position, 0, len(holdings))
	for _, holding := range holdings {
		quote, err := h.quotes.Lookup(ctx, holding.Symbol)
		if err != nil {
			writeQuoteError(c, err)
			return
		}
		value := quote.Price.Mul(decimalFromInt(holding.Shares))
		total = total.Add(value)
		positions = append(positions, position{
			Symbol:       holding.Symbol,
			Name:         quote.Name,
			Shares:       holding.Shares,
			Price:        quote.Price,
			Value:        value,
			PriceDisplay: usd(quote.Price),
			ValueDisplay: usd(value),
		})
	}

	c.JSON(http.StatusOK, portfolioResponse{
		Username:     account.Username,
		Cash:         account.Cash,
		CashDisplay:  usd(account.Cash),
		Positions:    positions,
		Total:        total,
		TotalDisplay: usd(total),
	})
}

// GetHistory returns the account's transactions, most recent first.
func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	txns, err := h.ledger.Transactions(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	entries := make([]historyEntry, 0, len(txns))
	for _, txn := range txns {
		entries = append(entries, historyEntry{
			Transaction:  txn,
			Side:         txn.Side(),
			PriceDisplay: usd(txn.Price),
		})
	}
	c.JSON(http.StatusOK, entries)
}
