package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stocks-simulator/auth"
)

// AccountIDKey is the gin context key holding the authenticated account id.
const AccountIDKey = "account_id"

// AccessParser validates an access token.
type AccessParser interface {
	ParseAccess(token string) (auth.Claims, error)
}

func JWTAuth(tokens AccessParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be a bearer token"})
			return
		}

		claims, err := tokens.ParseAccess(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Next()
	}
}

// AccountID returns the id JWTAuth stored on the context.
func AccountID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(AccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
