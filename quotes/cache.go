package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"stocks-simulator/models"
)

const (
	historyExpiration = 24 * time.Hour
	// fetchTimeout bounds a shared upstream fetch, which outlives any one caller.
	fetchTimeout = 15 * time.Second
)

// Recorder persists prices observed from upstream.
type Recorder interface {
	RecordPrice(ctx context.Context, quote models.Quote) error
	SavePrices(ctx context.Context, prices []models.StockPrice, batchSize int) error
}

// Cached fronts a provider with Redis. Concurrent misses for the same
// symbol share one upstream request. Redis being down costs latency, not
// availability: lookups fall through to the provider.
type Cached struct {
	provider Provider
	history  HistoryProvider
	rdb      *redis.Client
	ttl      time.Duration
	recorder Recorder
	log      zerolog.Logger
	group    singleflight.Group
}

// NewCached wraps provider. history and recorder may be nil.
func NewCached(provider Provider, history HistoryProvider, rdb *redis.Client, ttl time.Duration, recorder Recorder, log zerolog.Logger) *Cached {
	return &Cached{
		provider: provider,
		history:  history,
		rdb:      rdb,
		ttl:      ttl,
		recorder: recorder,
		log:      log.With().Str("component", "quotes").Logger(),
	}
}

func priceKey(symbol string) string   { return fmt.Sprintf("stock:%s:price", symbol) }
func historyKey(symbol string) string { return fmt.Sprintf("stock:%s:history", symbol) }

func (c *Cached) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return models.Quote{}, err
	}

	var quote models.Quote
	if c.getJSON(ctx, priceKey(symbol), &quote) {
		return quote, nil
	}

	v, err := c.shared(ctx, "price:"+symbol, func(ctx context.Context) (interface{}, error) {
		q, err := c.provider.Lookup(ctx, symbol)
		if err != nil {
			return models.Quote{}, err
		}
		c.setJSON(ctx, priceKey(symbol), q, c.ttl)
		if c.recorder != nil {
			if err := c.recorder.RecordPrice(ctx, q); err != nil {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to record price")
			}
		}
		return q, nil
	})
	if err != nil {
		return models.Quote{}, err
	}
	return v.(models.Quote), nil
}

var ErrHistoryUnsupported = errors.New("price history is not available from this source")

func (c *Cached) History(ctx context.Context, symbol string) ([]models.StockPrice, error) {
	if c.history == nil {
		return nil, ErrHistoryUnsupported
	}
	symbol, err := normalize(symbol)
	if err != nil {
		return nil, err
	}

	var history []models.StockPrice
	if c.getJSON(ctx, historyKey(symbol), &history) {
		return history, nil
	}

	v, err := c.shared(ctx, "history:"+symbol, func(ctx context.Context) (interface{}, error) {
		h, err := c.history.History(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.setJSON(ctx, historyKey(symbol), h, historyExpiration)
		if c.recorder != nil {
			// SavePrices may rewrite the slice; keep the response separate.
			stored := make([]models.StockPrice, len(h))
			copy(stored, h)
			if err := c.recorder.SavePrices(ctx, stored, 100); err != nil {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to store price history")
			}
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.StockPrice), nil
}

// shared runs fetch once per key for all concurrent callers. The fetch runs
// on a context detached from the first caller and bounded by fetchTimeout.
// Each caller stops waiting when its own ctx is done.
func (c *Cached) shared(ctx context.Context, key string, fetch func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cached) getJSON(ctx context.Context, key string, out interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		return false
	}
	return true
}

func (c *Cached) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("encode cache entry")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}
