package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stocks-simulator/auth"
	"stocks-simulator/config"
	"stocks-simulator/database"
	"stocks-simulator/logger"
	"stocks-simulator/models"
	"stocks-simulator/quotes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]string
	down   bool
}

func (s *stubQuotes) set(symbol, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *stubQuotes) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return models.Quote{}, errors.New("dial tcp: connection refused")
	}
	price, ok := s.prices[database.NormalizeSymbol(symbol)]
	if !ok {
		return models.Quote{}, quotes.ErrNotFound
	}
	return models.Quote{
		Symbol: database.NormalizeSymbol(symbol),
		Name:   database.NormalizeSymbol(symbol) + " Inc.",
		Price:  decimal.RequireFromString(price),
		AsOf:   time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubQuotes) History(ctx context.Context, symbol string) ([]models.StockPrice, error) {
	if _, err := s.Lookup(ctx, symbol); err != nil {
		return nil, err
	}
	return []models.StockPrice{
		{Symbol: "AAPL", Price: decimal.RequireFromString("148.5"), Timestamp: time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)},
		{Symbol: "AAPL", Price: decimal.RequireFromString("150"), Timestamp: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	router *gin.Engine
	quotes *stubQuotes
	logs   *syncBuffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Config{
		DBDriver:    "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "handlers.db"),
		LockTimeout: 5 * time.Second,
	}
	db, err := config.OpenDB(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := &stubQuotes{prices: map[string]string{"AAPL": "150.00", "MSFT": "400.00"}}
	h := New(
		database.NewStore(db),
		q,
		auth.Bcrypt{Cost: bcrypt.MinCost},
		auth.NewTokens("test-secret", time.Hour, 24*time.Hour, rdb),
		models.DefaultCash,
	)

	logs := &syncBuffer{}
	log := logger.NewWithWriter(logs)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))
		c.Next()
	})
	h.Register(r)
	return &testServer{router: r, quotes: q, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func (s *testServer) register(t *testing.T, username string) auth.Pair {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/register", "", gin.H{
		"username":     username,
		"password":     "hunter2",
		"confirmation": "hunter2",
	})
	expectStatus(t, rr, http.StatusCreated)
	var pair auth.Pair
	decode(t, rr, &pair)
	return pair
}

func TestTradingFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice").AccessToken

	rr := s.do(t, http.MethodPost, "/buy", token, gin.H{"symbol": "aapl", "shares": 10})
	expectStatus(t, rr, http.StatusCreated)
	var bought struct {
		Transaction  models.Transaction `json:"transaction"`
		Side         string             `json:"side"`
		TotalDisplay string             `json:"total_display"`
	}
	decode(t, rr, &bought)
	if bought.Side != "buy" || bought.Transaction.Symbol != "AAPL" || bought.Transaction.Shares != 10 {
		t.Errorf("buy response = %+v", bought)
	}
	if bought.TotalDisplay != "$1,500.00" {
		t.Errorf("total_display = %q, want $1,500.00", bought.TotalDisplay)
	}

	s.quotes.set("AAPL", "160.00")
	rr = s.do(t, http.MethodPost, "/sell", token, gin.H{"symbol": "AAPL", "shares": 4})
	expectStatus(t, rr, http.StatusCreated)

	rr = s.do(t, http.MethodGet, "/portfolio", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var portfolio struct {
		Username    string          `json:"username"`
		Cash        decimal.Decimal `json:"cash"`
		CashDisplay string          `json:"cash_display"`
		Positions   []struct {
			Symbol string          `json:"symbol"`
			Shares int             `json:"shares"`
			Value  decimal.Decimal `json:"value"`
		} `json:"positions"`
		Total        decimal.Decimal `json:"total"`
		TotalDisplay string          `json:"total_display"`
	}
	decode(t, rr, &portfolio)
	// 10000 - 1500 + 640
	if !portfolio.Cash.Equal(decimal.RequireFromString("9140")) || portfolio.CashDisplay != "$9,140.00" {
		t.Errorf("cash = %s (%s), want 9140", portfolio.Cash, portfolio.CashDisplay)
	}
	if len(portfolio.Positions) != 1 || portfolio.Positions[0].Shares != 6 {
		t.Fatalf("positions = %+v, want 6 AAPL", portfolio.Positions)
	}
	if !portfolio.Positions[0].Value.Equal(decimal.RequireFromString("960")) {
		t.Errorf("value = %s, want 960", portfolio.Positions[0].Value)
	}
	if !portfolio.Total.Equal(decimal.RequireFromString("10100")) || portfolio.TotalDisplay != "$10,100.00" {
		t.Errorf("total = %s (%s), want 10100", portfolio.Total, portfolio.TotalDisplay)
	}

	rr = s.do(t, http.MethodGet, "/history", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var history []struct {
		Symbol string `json:"symbol"`
		Shares int    `json:"shares"`
		Side   string `json:"side"`
	}
	decode(t, rr, &history)
	if len(history) != 2 || history[0].Side != "sell" || history[0].Shares != -4 || history[1].Side != "buy" {
		t.Errorf("history = %+v, want sell then buy", history)
	}

	rr = s.do(t, http.MethodGet, "/sell", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var sellable struct {
		Symbols []string `json:"symbols"`
	}
	decode(t, rr, &sellable)
	if len(sellable.Symbols) != 1 || sellable.Symbols[0] != "AAPL" {
		t.Errorf("sellable = %v, want [AAPL]", sellable.Symbols)
	}
}

func TestTradeErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "bob").AccessToken

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		down   bool
		status int
		errMsg string
	}{
		{"too expensive", http.MethodPost, "/buy", gin.H{"symbol": "MSFT", "shares": 26}, false, http.StatusUnprocessableEntity, "Insufficient funds"},
		{"sell unheld", http.MethodPost, "/sell", gin.H{"symbol": "MSFT", "shares": 1}, false, http.StatusUnprocessableEntity, "Selling more shares than shares owned"},
		{"zero shares", http.MethodPost, "/buy", gin.H{"symbol": "AAPL", "shares": 0}, false, http.StatusBadRequest, ""},
		{"negative shares", http.MethodPost, "/sell", gin.H{"symbol": "AAPL", "shares": -2}, false, http.StatusBadRequest, ""},
		{"unknown symbol", http.MethodPost, "/buy", gin.H{"symbol": "ZZZZ", "shares": 1}, false, http.StatusNotFound, "Invalid symbol"},
		{"quote unknown", http.MethodGet, "/quote/ZZZZ", nil, false, http.StatusNotFound, "Invalid symbol"},
		{"source down", http.MethodPost, "/buy", gin.H{"symbol": "AAPL", "shares": 1}, true, http.StatusServiceUnavailable, "Price source unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.quotes.mu.Lock()
			s.quotes.down = tt.down
			s.quotes.mu.Unlock()

			rr := s.do(t, tt.method, tt.path, token, tt.body)
			expectStatus(t, rr, tt.status)
			var body struct {
				Error string `json:"error"`
			}
			decode(t, rr, &body)
			if body.Error == "" || (tt.errMsg != "" && body.Error != tt.errMsg) {
				t.Errorf("error = %q, want %q", body.Error, tt.errMsg)
			}
		})
	}

	rr := s.do(t, http.MethodGet, "/portfolio", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var portfolio struct {
		Cash decimal.Decimal `json:"cash"`
	}
	decode(t, rr, &portfolio)
	if !portfolio.Cash.Equal(models.DefaultCash) {
		t.Errorf("cash after failed trades = %s, want %s", portfolio.Cash, models.DefaultCash)
	}
}

func TestMarketRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "carol").AccessToken

	rr := s.do(t, http.MethodGet, "/quote/aapl", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var quote struct {
		Symbol       string `json:"symbol"`
		Name         string `json:"name"`
		PriceDisplay string `json:"price_display"`
	}
	decode(t, rr, &quote)
	if quote.Symbol != "AAPL" || quote.Name != "AAPL Inc." || quote.PriceDisplay != "$150.00" {
		t.Errorf("quote = %+v", quote)
	}

	rr = s.do(t, http.MethodGet, "/prices/AAPL/history", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var history struct {
		Symbol string `json:"symbol"`
		Prices []struct {
			Date  string          `json:"date"`
			Close decimal.Decimal `json:"close"`
		} `json:"prices"`
	}
	decode(t, rr, &history)
	if history.Symbol != "AAPL" || len(history.Prices) != 2 || history.Prices[0].Date != "2024-02-28" {
		t.Errorf("history = %+v", history)
	}
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)
	pair := s.register(t, "dave")

	t.Run("duplicate username", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/register", "", gin.H{"username": "dave", "password": "x", "confirmation": "x"})
		expectStatus(t, rr, http.StatusConflict)
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/register", "", gin.H{"username": "erin", "password": "x", "confirmation": "y"})
		expectStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("check", func(t *testing.T) {
		for username, want := range map[string]bool{"dave": false, "erin": true, "": false} {
			rr := s.do(t, http.MethodGet, "/check?username="+username, "", nil)
			expectStatus(t, rr, http.StatusOK)
			var available bool
			decode(t, rr, &available)
			if available != want {
				t.Errorf("check(%q) = %v, want %v", username, available, want)
			}
		}
	})

	t.Run("login", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/login", "", gin.H{"username": "dave", "password": "wrong"})
		expectStatus(t, rr, http.StatusUnauthorized)
		rr = s.do(t, http.MethodPost, "/login", "", gin.H{"username": "nobody", "password": "hunter2"})
		expectStatus(t, rr, http.StatusUnauthorized)
		rr = s.do(t, http.MethodPost, "/login", "", gin.H{"username": "dave", "password": "hunter2"})
		expectStatus(t, rr, http.StatusOK)
	})

	t.Run("protected route needs token", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/portfolio", "", nil)
		expectStatus(t, rr, http.StatusUnauthorized)
		rr = s.do(t, http.MethodGet, "/portfolio", pair.RefreshToken, nil)
		expectStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("refresh rotates", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
		expectStatus(t, rr, http.StatusOK)
		var next auth.Pair
		decode(t, rr, &next)

		rr = s.do(t, http.MethodPost, "/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
		expectStatus(t, rr, http.StatusUnauthorized)

		rr = s.do(t, http.MethodPost, "/logout", "", gin.H{"refresh_token": next.RefreshToken})
		expectStatus(t, rr, http.StatusOK)
		rr = s.do(t, http.MethodPost, "/refresh", "", gin.H{"refresh_token": next.RefreshToken})
		expectStatus(t, rr, http.StatusUnauthorized)
	})
}

func TestHandlersLogThroughRequestLogger(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "frank").AccessToken
	if !strings.Contains(s.logs.String(), `"message":"account registered"`) {
		t.Errorf("registration not logged: %s", s.logs.String())
	}

	s.quotes.mu.Lock()
	s.quotes.down = true
	s.quotes.mu.Unlock()
	rr := s.do(t, http.MethodGet, "/quote/AAPL", token, nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if !strings.Contains(s.logs.String(), `"message":"price lookup failed"`) {
		t.Errorf("price failure not logged: %s", s.logs.String())
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{database.ErrConcurrencyConflict, http.StatusConflict},
		{database.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{quotes.ErrRateLimited, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(c, tt.err)
		if rr.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.status)
		}
		if rr.Header().Get("Retry-After") == "" {
			t.Errorf("%v: Retry-After missing", tt.err)
		}
	}
}
