package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stocks-simulator/models"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

type alphaVantageResponse struct {
	Note        string `json:"Note"`
	Information string `json:"Information"`
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Price            string `json:"05. price"`
		LatestTradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

// AlphaVantage reads GLOBAL_QUOTE and TIME_SERIES_DAILY. The endpoint does
// not return company names, so Name is the symbol.
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAlphaVantage(apiKey string) *AlphaVantage {
	return &AlphaVantage{
		apiKey:  apiKey,
		baseURL: alphaVantageURL,
		client:  &http.Client{Timeout: 8 * time.Second},
	}
}

func (a *AlphaVantage) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return models.Quote{}, err
	}

	var result alphaVantageResponse
	if err := a.query(ctx, "GLOBAL_QUOTE", symbol, &result); err != nil {
		return models.Quote{}, err
	}
	if result.GlobalQuote.Price == "" {
		return models.Quote{}, ErrNotFound
	}

	price, err := decimal.NewFromString(result.GlobalQuote.Price)
	if err != nil || !price.IsPositive() {
		return models.Quote{}, fmt.Errorf("%w: unusable price %q", ErrNotFound, result.GlobalQuote.Price)
	}

	asOf := time.Now().UTC()
	if t, err := time.Parse("2006-01-02", result.GlobalQuote.LatestTradingDay); err == nil {
		asOf = t
	}
	return models.Quote{Symbol: symbol, Name: symbol, Price: price, AsOf: asOf}, nil
}

// History returns daily closes, oldest first.
func (a *AlphaVantage) History(ctx context.Context, symbol string) ([]models.StockPrice, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return nil, err
	}

	var result alphaVantageResponse
	if err := a.query(ctx, "TIME_SERIES_DAILY", symbol, &result); err != nil {
		return nil, err
	}
	if len(result.TimeSeriesDaily) == 0 {
		return nil, ErrNotFound
	}

	history := make([]models.StockPrice, 0, len(result.TimeSeriesDaily))
	for date, data := range result.TimeSeriesDaily {
		closePrice, err := decimal.NewFromString(data.Close)
		if err != nil {
			return nil, fmt.Errorf("parse close %q for %s: %w", data.Close, date, err)
		}
		timestamp, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		history = append(history, models.StockPrice{
			Symbol:    symbol,
			Price:     closePrice,
			Timestamp: timestamp,
		})
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	return history, nil
}

func (a *AlphaVantage) query(ctx context.Context, function, symbol string, out *alphaVantageResponse) error {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "stocks-simulator/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alphavantage %s: %w", function, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alphavantage http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode alphavantage response: %w", err)
	}
	if out.Note != "" || out.Information != "" {
		return ErrRateLimited
	}
	return nil
}
