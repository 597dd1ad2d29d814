package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockPrice struct {
	gorm.Model
	Symbol    string          `gorm:"size:16;index:idx_stock_prices_symbol_ts" json:"symbol"`
	Price     decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"price"`
	Timestamp time.Time       `gorm:"index:idx_stock_prices_symbol_ts" json:"timestamp"`
}

// Quote is a point-in-time price for a symbol as returned by a price source.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}
