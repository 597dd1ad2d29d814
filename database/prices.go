package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stocks-simulator/models"
)

var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrPriceNotFound    = errors.New("no recorded price")
)

// SavePrices appends observed prices in batches of batchSize. Either every
// batch is stored or none is.
func (s *Store) SavePrices(ctx context.Context, prices []models.StockPrice, batchSize int) error {
	if batchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if len(prices) == 0 {
		return nil
	}
	for i := range prices {
		prices[i].Symbol = NormalizeSymbol(prices[i].Symbol)
	}

	return s.atomically(ctx, func(tx *gorm.DB) error {
		for start := 0; start < len(prices); start += batchSize {
			end := start + batchSize
			if end > len(prices) {
				end = len(prices)
			}
			if err := tx.Create(prices[start:end]).Error; err != nil {
				return fmt.Errorf("batch insert failed: %w", err)
			}
		}
		return nil
	})
}

// RecordPrice stores a single observed price.
func (s *Store) RecordPrice(ctx context.Context, quote models.Quote) error {
	ts := quote.AsOf
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	return s.SavePrices(ctx, []models.StockPrice{{
		Symbol:    quote.Symbol,
		Price:     quote.Price,
		Timestamp: ts,
	}}, 1)
}

// LatestPrice returns the most recently observed price for symbol.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (models.StockPrice, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var price models.StockPrice
	err := s.db.WithContext(ctx).
		Where("symbol = ?", NormalizeSymbol(symbol)).
		Order("timestamp DESC").
		First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StockPrice{}, ErrPriceNotFound
	}
	return price, classify(err)
}
