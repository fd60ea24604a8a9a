package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	userIDKey = "userId"
	tokenKey  = "sessionToken"
)

// Token returns the session token from the cookie or a bearer header.
func Token(c *gin.Context, cookieName string) string {
	if token, err := c.Cookie(cookieName); err == nil && token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// RequireSession rejects requests without a live session with 401 and
// otherwise exposes the user id through UserID.
func RequireSession(store Store, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := Token(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Not logged in."})
			return
		}

		userID, err := store.Get(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("session lookup failed")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Session expired or invalid."})
			return
		}

		c.Set(userIDKey, userID)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// UserID is the authenticated user of the request, or "" outside RequireSession.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// CurrentToken is the token RequireSession accepted.
func CurrentToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}
