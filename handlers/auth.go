package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stocks-simulator/database"
	"stocks-simulator/logger"
)

type SignupInput struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Confirmation string `json:"confirmation" binding:"required"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenInput struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Signup(c *gin.Context) {
	var input SignupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Password != input.Confirmation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passwords do not match"})
		return
	}

	hashed, err := h.hasher.Hash(input.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error hashing password"})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	id, err := h.ledger.CreateAccount(ctx, input.Username, hashed, h.startingCash)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Uint("account_id", id).Msg("account registered")

	pair, err := h.sessions.Issue(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error generating token"})
		return
	}
	c.JSON(http.StatusCreated, pair)
}

// Check reports whether a username is still free.
func (h *Handler) Check(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusOK, false)
		return
	}
	_, err := h.ledger.AccountByUsername(c.Request.Context(), username)
	switch {
	case errors.Is(err, database.ErrAccountNotFound):
		c.JSON(http.StatusOK, true)
	case err != nil:
		writeError(c, err)
	default:
		c.JSON(http.StatusOK, false)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	account, err := h.ledger.AccountByUsername(ctx, input.Username)
	if err != nil && !errors.Is(err, database.ErrAccountNotFound) {
		writeError(c, err)
		return
	}
	if err != nil || !h.hasher.Verify(account.CredentialHash, input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username and/or password"})
		return
	}

	pair, err := h.sessions.Issue(ctx, account.ID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error generating token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var input TokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := h.sessions.Refresh(c.Request.Context(), input.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Logout(c *gin.Context) {
	var input TokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sessions.Revoke(c.Request.Context(), input.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
