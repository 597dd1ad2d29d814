package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stocks-simulator/models"
)

var (
	ErrNotFound    = errors.New("symbol not found")
	ErrRateLimited = errors.New("price source rate limit reached")
)

// Provider looks up the current price of a symbol.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (models.Quote, error)
}

// HistoryProvider returns daily closing prices for a symbol.
type HistoryProvider interface {
	History(ctx context.Context, symbol string) ([]models.StockPrice, error)
}

func normalize(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", ErrNotFound
	}
	return symbol, nil
}

type fallback []Provider

// Fallback asks each provider in turn and returns the first quote found.
// ErrNotFound is only returned when every provider reported it.
func Fallback(providers ...Provider) Provider {
	return fallback(providers)
}

func (f fallback) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	var failures []error
	for _, p := range f {
		q, err := p.Lookup(ctx, symbol)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return models.Quote{}, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return models.Quote{}, ErrNotFound
	}
	return models.Quote{}, fmt.Errorf("all price sources failed: %w", errors.Join(failures...))
}
