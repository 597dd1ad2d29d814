package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultCash is the balance a newly registered account starts with.
var DefaultCash = decimal.RequireFromString("10000.00")

type Account struct {
	gorm.Model
	Username       string          `gorm:"uniqueIndex;size:255;not null" json:"username"`
	CredentialHash string          `gorm:"not null" json:"-"`
	Cash           decimal.Decimal `gorm:"type:numeric(19,4);not null;check:cash >= 0" json:"cash"`
}
