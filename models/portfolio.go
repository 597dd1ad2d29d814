package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one immutable ledger row. Shares is positive for a buy and
// negative for a sell. ID is the sequence key; Timestamp is only used for
// ordering and display.
type Transaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	AccountID uint            `gorm:"index;not null" json:"account_id"`
	Symbol    string          `gorm:"size:16;index;not null" json:"symbol"`
	Price     decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"price"`
	Shares    int             `gorm:"not null" json:"shares"`
	Timestamp time.Time       `gorm:"index;not null" json:"timestamp"`
}

// Side reports "buy" or "sell" from the sign of Shares.
func (t Transaction) Side() string {
	if t.Shares < 0 {
		return "sell"
	}
	return "buy"
}

// Holding is the net share count for one symbol, derived from the ledger.
type Holding struct {
	Symbol string `json:"symbol"`
	Shares int    `json:"shares"`
}
