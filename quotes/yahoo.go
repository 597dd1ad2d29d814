package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"stocks-simulator/models"
)

const yahooURL = "https://query2.finance.yahoo.com/v8/finance/chart/"

// Yahoo reads the v8 chart endpoint. It needs no API key and reports the
// company name alongside the price.
type Yahoo struct {
	baseURL string
	client  *http.Client
}

func NewYahoo() *Yahoo {
	return &Yahoo{
		baseURL: yahooURL,
		client:  &http.Client{Timeout: 8 * time.Second},
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				LongName           string  `json:"longName"`
				ShortName          string  `json:"shortName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return models.Quote{}, err
	}

	raw, err := y.chart(ctx, symbol, "1d", "1m")
	if err != nil {
		return models.Quote{}, err
	}
	r := raw.Chart.Result[0]

	price := r.Meta.RegularMarketPrice
	asOf := time.Unix(r.Meta.RegularMarketTime, 0).UTC()

	// last non-empty close when meta has no market price
	if price <= 0 && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0 && i < len(r.Timestamp); i-- {
			if closes[i] != nil && *closes[i] > 0 {
				price = *closes[i]
				asOf = time.Unix(r.Timestamp[i], 0).UTC()
				break
			}
		}
	}
	if price <= 0 {
		return models.Quote{}, ErrNotFound
	}
	if asOf.Unix() <= 0 {
		asOf = time.Now().UTC()
	}

	name := r.Meta.LongName
	if name == "" {
		name = r.Meta.ShortName
	}
	if name == "" {
		name = symbol
	}
	return models.Quote{
		Symbol: symbol,
		Name:   name,
		Price:  decimal.NewFromFloat(price),
		AsOf:   asOf,
	}, nil
}

// History returns up to a year of daily closes, oldest first.
func (y *Yahoo) History(ctx context.Context, symbol string) ([]models.StockPrice, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return nil, err
	}

	raw, err := y.chart(ctx, symbol, "1y", "1d")
	if err != nil {
		return nil, err
	}
	r := raw.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, ErrNotFound
	}

	closes := r.Indicators.Quote[0].Close
	history := make([]models.StockPrice, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		history = append(history, models.StockPrice{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(*closes[i]),
			Timestamp: time.Unix(ts, 0).UTC(),
		})
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history, nil
}

func (y *Yahoo) chart(ctx context.Context, symbol, rng, interval string) (yahooChart, error) {
	q := url.Values{}
	q.Set("range", rng)
	q.Set("interval", interval)

	var raw yahooChart
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+url.PathEscape(symbol)+"?"+q.Encode(), nil)
	if err != nil {
		return raw, err
	}
	req.Header.Set("User-Agent", "stocks-simulator/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return raw, fmt.Errorf("yahoo chart: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return raw, ErrNotFound
	case http.StatusTooManyRequests:
		return raw, ErrRateLimited
	default:
		return raw, fmt.Errorf("yahoo http %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return raw, fmt.Errorf("decode yahoo response: %w", err)
	}
	if len(raw.Chart.Result) == 0 {
		return raw, ErrNotFound
	}
	return raw, nil
}
