package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Rhymond/go-money"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stocks-simulator/auth"
	"stocks-simulator/database"
	"stocks-simulator/logger"
	"stocks-simulator/middleware"
	"stocks-simulator/models"
	"stocks-simulator/quotes"
)

// Ledger is the part of *database.Store the HTTP layer uses.
type Ledger interface {
	CreateAccount(ctx context.Context, username, credentialHash string, initialCash decimal.Decimal) (uint, error)
	Account(ctx context.Context, accountID uint) (models.Account, error)
	AccountByUsername(ctx context.Context, username string) (models.Account, error)
	Holdings(ctx context.Context, accountID uint) ([]models.Holding, error)
	Transactions(ctx context.Context, accountID uint) ([]models.Transaction, error)
	Buy(ctx context.Context, accountID uint, symbol string, shares int, unitPrice decimal.Decimal) (models.Transaction, error)
	Sell(ctx context.Context, accountID uint, symbol string, shares int, unitPrice decimal.Decimal) (models.Transaction, error)
}

// Sessions issues and verifies the token pairs handed to clients.
type Sessions interface {
	middleware.AccessParser
	Issue(ctx context.Context, accountID uint) (auth.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Pair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Quotes supplies current and historical prices.
type Quotes interface {
	quotes.Provider
	quotes.HistoryProvider
}

type Handler struct {
	ledger       Ledger
	quotes       Quotes
	hasher       auth.Hasher
	sessions     Sessions
	startingCash decimal.Decimal
}

func New(ledger Ledger, q Quotes, hasher auth.Hasher, sessions Sessions, startingCash decimal.Decimal) *Handler {
	return &Handler{
		ledger:       ledger,
		quotes:       q,
		hasher:       hasher,
		sessions:     sessions,
		startingCash: startingCash,
	}
}

// Register mounts every route on r. Trading and portfolio routes sit behind
// JWTAuth.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/register", h.Signup)
	r.GET("/check", h.Check)
	r.POST("/login", h.Login)
	r.POST("/refresh", h.RefreshToken)
	r.POST("/logout", h.Logout)

	protected := r.Group("/")
	protected.Use(middleware.JWTAuth(h.sessions))
	{
		protected.GET("/quote/:symbol", h.GetQuote)
		protected.GET("/prices/:symbol/history", h.GetPriceHistory)
		protected.POST("/buy", h.Buy)
		protected.GET("/sell", h.SellableSymbols)
		protected.POST("/sell", h.Sell)
		protected.GET("/portfolio", h.GetPortfolio)
		protected.GET("/history", h.GetHistory)
	}
}

// usd renders an amount the way the UI shows it, e.g. "$8,500.00".
func usd(d decimal.Decimal) string {
	return money.New(d.Shift(2).Round(0).IntPart(), money.USD).Display()
}

func accountID(c *gin.Context) (uint, bool) {
	id, ok := middleware.AccountID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return id, ok
}

// writeError translates ledger, quote and token errors into a status code
// and a {"error": ...} body.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, database.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, database.ErrUsernameTaken):
		status, msg = http.StatusConflict, "Username already taken"
	case errors.Is(err, database.ErrAccountNotFound):
		status, msg = http.StatusNotFound, "Account not found"
	case errors.Is(err, database.ErrInsufficientFunds):
		status, msg = http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, database.ErrInsufficientShares):
		status, msg = http.StatusUnprocessableEntity, "Selling more shares than shares owned"
	case errors.Is(err, database.ErrConcurrencyConflict):
		c.Header("Retry-After", "1")
		status, msg = http.StatusConflict, "Another request updated this account, try again"
	case errors.Is(err, database.ErrStorageUnavailable):
		c.Header("Retry-After", "5")
		status, msg = http.StatusServiceUnavailable, "Storage unavailable, try again later"
	case errors.Is(err, quotes.ErrNotFound):
		status, msg = http.StatusNotFound, "Invalid symbol"
	case errors.Is(err, quotes.ErrHistoryUnsupported):
		status, msg = http.StatusNotFound, "Price history not available"
	case errors.Is(err, quotes.ErrRateLimited):
		c.Header("Retry-After", "60")
		status, msg = http.StatusServiceUnavailable, "Price source busy, try again later"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		status, msg = http.StatusUnauthorized, "Invalid or expired token"
	}

	log := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeQuoteError is writeError for price lookups: anything other than an
// unknown symbol means the upstream source failed.
func writeQuoteError(c *gin.Context, err error) {
	if errors.Is(err, quotes.ErrNotFound) || errors.Is(err, quotes.ErrHistoryUnsupported) || errors.Is(err, quotes.ErrRateLimited) {
		writeError(c, err)
		return
	}
	log := logger.FromContext(c.Request.Context())
	log.Error().Err(err).Msg("price lookup failed")
	c.Error(err)
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Price source unavailable"})
}
