package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stocks-simulator/models"
)

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CreateAccount registers a new account with the given starting cash and
// returns its id.
func (s *Store) CreateAccount(ctx context.Context, username, credentialHash string, initialCash decimal.Decimal) (uint, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("%w: username must not be empty", ErrInvalidArgument)
	}
	if credentialHash == "" {
		return 0, fmt.Errorf("%w: credential hash must not be empty", ErrInvalidArgument)
	}
	if initialCash.IsNegative() {
		return 0, fmt.Errorf("%w: initial cash must not be negative", ErrInvalidArgument)
	}

	account := models.Account{
		Username:       username,
		CredentialHash: credentialHash,
		Cash:           initialCash,
	}
	err := s.atomically(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Create(&account).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return account.ID, nil
}

// Account loads an account by id.
func (s *Store) Account(ctx context.Context, accountID uint) (models.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var account models.Account
	err := s.db.WithContext(ctx).First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, ErrAccountNotFound
	}
	return account, classify(err)
}

// AccountByUsername loads an account by its unique username.
func (s *Store) AccountByUsername(ctx context.Context, username string) (models.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var account models.Account
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, ErrAccountNotFound
	}
	return account, classify(err)
}

// Cash returns the current cash balance of an account.
func (s *Store) Cash(ctx context.Context, accountID uint) (decimal.Decimal, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Cash, nil
}

// Holdings lists every symbol the account holds a strictly positive number
// of shares in, ordered by symbol.
func (s *Store) Holdings(ctx context.Context, accountID uint) ([]models.Holding, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := accountExists(db, accountID); err != nil {
		return nil, err
	}

	holdings := []models.Holding{}
	err := db.Model(&models.Transaction{}).
		Select("symbol, CAST(SUM(shares) AS BIGINT) AS shares").
		Where("account_id = ?", accountID).
		Group("symbol").
		Having("SUM(shares) > ?", 0).
		Order("symbol").
		Scan(&holdings).Error
	if err != nil {
		return nil, classify(err)
	}
	return holdings, nil
}

// Holding returns the net share count for one symbol; zero when the account
// never traded it.
func (s *Store) Holding(ctx context.Context, accountID uint, symbol string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := accountExists(db, accountID); err != nil {
		return 0, err
	}
	shares, err := holding(db, accountID, NormalizeSymbol(symbol))
	return shares, classify(err)
}

// Transactions returns the account's ledger, most recent first.
func (s *Store) Transactions(ctx context.Context, accountID uint) ([]models.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := accountExists(db, accountID); err != nil {
		return nil, err
	}

	txns := []models.Transaction{}
	err := db.Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Order("id DESC").
		Find(&txns).Error
	if err != nil {
		return nil, classify(err)
	}
	return txns, nil
}

// Buy debits shares*unitPrice from the account and records the purchase.
// Both writes commit together or not at all.
func (s *Store) Buy(ctx context.Context, accountID uint, symbol string, shares int, unitPrice decimal.Decimal) (models.Transaction, error) {
	symbol, unitPrice, err := validateTrade(symbol, shares, unitPrice)
	if err != nil {
		return models.Transaction{}, err
	}
	cost := unitPrice.Mul(decimal.NewFromInt(int64(shares)))

	var txn models.Transaction
	err = s.atomically(ctx, func(tx *gorm.DB) error {
		account, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if account.Cash.Sub(cost).IsNegative() {
			return ErrInsufficientFunds
		}
		if err := tx.Model(&account).Update("cash", account.Cash.Sub(cost)).Error; err != nil {
			return err
		}
		txn = s.newTransaction(accountID, symbol, unitPrice, shares)
		return tx.Create(&txn).Error
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return txn, nil
}

// Sell credits shares*unitPrice to the account and records the sale. The
// account must currently hold at least the number of shares sold.
func (s *Store) Sell(ctx context.Context, accountID uint, symbol string, shares int, unitPrice decimal.Decimal) (models.Transaction, error) {
	symbol, unitPrice, err := validateTrade(symbol, shares, unitPrice)
	if err != nil {
		return models.Transaction{}, err
	}
	proceeds := unitPrice.Mul(decimal.NewFromInt(int64(shares)))

	var txn models.Transaction
	err = s.atomically(ctx, func(tx *gorm.DB) error {
		account, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		// The account row lock serializes every trade on this account, so the
		// sum below cannot change before commit.
		owned, err := holding(tx, accountID, symbol)
		if err != nil {
			return err
		}
		if owned < 1 || shares > owned {
			return ErrInsufficientShares
		}
		if err := tx.Model(&account).Update("cash", account.Cash.Add(proceeds)).Error; err != nil {
			return err
		}
		txn = s.newTransaction(accountID, symbol, unitPrice, -shares)
		return tx.Create(&txn).Error
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return txn, nil
}

func (s *Store) newTransaction(accountID uint, symbol string, price decimal.Decimal, shares int) models.Transaction {
	return models.Transaction{
		AccountID: accountID,
		Symbol:    symbol,
		Price:     price,
		Shares:    shares,
		Timestamp: s.now().UTC(),
	}
}

// priceScale matches the numeric(19,4) money columns.
const priceScale = 4

// validateTrade normalizes the symbol and rounds the price to the stored
// scale, so the cost checked here is the cost that gets written.
func validateTrade(symbol string, shares int, unitPrice decimal.Decimal) (string, decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return "", decimal.Zero, fmt.Errorf("%w: symbol must not be empty", ErrInvalidArgument)
	}
	if shares <= 0 {
		return "", decimal.Zero, fmt.Errorf("%w: shares must be positive", ErrInvalidArgument)
	}
	unitPrice = unitPrice.Round(priceScale)
	if !unitPrice.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	}
	return symbol, unitPrice, nil
}

// lockAccount reads the account row with SELECT ... FOR UPDATE. SQLite has
// no row locks; its single-writer connection gives the same serialization.
func lockAccount(tx *gorm.DB, accountID uint) (models.Account, error) {
	var account models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, ErrAccountNotFound
	}
	return account, err
}

func accountExists(db *gorm.DB, accountID uint) error {
	var count int64
	if err := db.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return classify(err)
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func holding(db *gorm.DB, accountID uint, symbol string) (int, error) {
	var shares int
	err := db.Model(&models.Transaction{}).
		Select("CAST(COALESCE(SUM(shares), 0) AS BIGINT)").
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Scan(&shares).Error
	return shares, err
}
