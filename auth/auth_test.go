package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt(t *testing.T) {
	h := Bcrypt{Cost: bcrypt.MinCost}

	hash, err := h.Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals plaintext")
	}
	if !h.Verify(hash, "hunter2") {
		t.Error("Verify() rejected the right password")
	}
	if h.Verify(hash, "hunter3") {
		t.Error("Verify() accepted the wrong password")
	}
	if h.Verify("not-a-hash", "hunter2") {
		t.Error("Verify() accepted a malformed hash")
	}
	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Hash(\"\") error = %v, want ErrEmptyPassword", err)
	}
}

func newTestTokens(t *testing.T) (*Tokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTokens("test-secret", time.Hour, 24*time.Hour, rdb), mr
}

func TestIssueAndParse(t *testing.T) {
	ctx := context.Background()
	tokens, mr := newTestTokens(t)

	pair, err := tokens.Issue(ctx, 42)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := tokens.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess() error = %v", err)
	}
	if claims.AccountID != 42 || claims.Subject != "42" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := tokens.ParseAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Errorf("redis keys = %v, want one refresh registration", mr.Keys())
	}
}

func TestParseRejectsTampering(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTestTokens(t)
	pair, err := tokens.Issue(ctx, 7)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewTokens("another-secret", time.Hour, time.Hour, tokens.rdb)
	if _, err := other.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with a different secret accepted: %v", err)
	}
	if _, err := tokens.ParseAccess("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage accepted: %v", err)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTestTokens(t)
	start := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return start }

	pair, err := tokens.Issue(ctx, 3)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tokens.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := tokens.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token accepted: %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTestTokens(t)

	first, err := tokens.Issue(ctx, 9)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	second, err := tokens.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	claims, err := tokens.ParseAccess(second.AccessToken)
	if err != nil || claims.AccountID != 9 {
		t.Errorf("ParseAccess(new) = %+v, %v", claims, err)
	}

	if _, err := tokens.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("reused refresh token error = %v, want ErrTokenRevoked", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	tokens, mr := newTestTokens(t)

	pair, err := tokens.Issue(ctx, 11)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := tokens.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("redis keys after revoke = %v", mr.Keys())
	}
	if err := tokens.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Errorf("second Revoke() error = %v", err)
	}
	if _, err := tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Refresh() after revoke error = %v", err)
	}
	if err := tokens.Revoke(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Revoke(access token) error = %v, want ErrInvalidToken", err)
	}
}
