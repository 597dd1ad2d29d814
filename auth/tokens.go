package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked or expired")
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Claims are the JWT claims carried by both access and refresh tokens.
type Claims struct {
	AccountID uint   `json:"account_id"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

// Pair is what a successful login or refresh hands back to the client.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Tokens issues and verifies HS256 tokens. Refresh tokens are only honoured
// while their id is registered in Redis, which is what makes logout work.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	rdb        *redis.Client
	now        func() time.Time
}

func NewTokens(secret string, accessTTL, refreshTTL time.Duration, rdb *redis.Client) *Tokens {
	return &Tokens{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		rdb:        rdb,
		now:        time.Now,
	}
}

func refreshKey(id string) string {
	return "refresh:" + id
}

// Issue creates a fresh access/refresh pair for the account.
func (t *Tokens) Issue(ctx context.Context, accountID uint) (Pair, error) {
	now := t.now()
	accessExp := now.Add(t.accessTTL)

	access, err := t.sign(accountID, kindAccess, uuid.NewString(), now, accessExp)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshID := uuid.NewString()
	refresh, err := t.sign(accountID, kindRefresh, refreshID, now, now.Add(t.refreshTTL))
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := t.rdb.Set(ctx, refreshKey(refreshID), accountID, t.refreshTTL).Err(); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return Pair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

// ParseAccess validates an access token and returns its claims.
func (t *Tokens) ParseAccess(token string) (Claims, error) {
	return t.parse(token, kindAccess)
}

// Refresh exchanges a registered refresh token for a new pair. The old
// refresh token is revoked, so each one can be used once.
func (t *Tokens) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := t.parse(refreshToken, kindRefresh)
	if err != nil {
		return Pair{}, err
	}

	deleted, err := t.rdb.Del(ctx, refreshKey(claims.ID)).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if deleted == 0 {
		return Pair{}, ErrTokenRevoked
	}
	return t.Issue(ctx, claims.AccountID)
}

// Revoke forgets a refresh token. Revoking an unknown or already revoked
// token is not an error.
func (t *Tokens) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := t.parse(refreshToken, kindRefresh)
	if err != nil {
		return err
	}
	if err := t.rdb.Del(ctx, refreshKey(claims.ID)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (t *Tokens) sign(accountID uint, kind, id string, issued, expires time.Time) (string, error) {
	claims := Claims{
		AccountID: accountID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatUint(uint64(accountID), 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) parse(token, kind string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Kind != kind || claims.AccountID == 0 {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
