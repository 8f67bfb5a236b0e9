package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"jobchat/internal/app/session"
	"jobchat/internal/domain/chat"
)

const (
	sessionContextKey = "jobchat.session"
	tokenContextKey   = "jobchat.token"
)

// Sessions hands out the live session for a bearer token.
type Sessions interface {
	Acquire(ctx context.Context, token string) (*session.Session, error)
	Release(token string) error
}

type AuthMiddleware struct {
	Sessions Sessions
	Logger   *slog.Logger
}

// Handle rejects requests without a valid bearer token. EventSource
// clients cannot set headers, so the token may also come as ?access_token.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	sess, err := m.Sessions.Acquire(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, chat.ErrUnauthenticated) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if m.Logger != nil {
			m.Logger.Warn("session start failed", "error", err)
		}
		respondError(c, err)
		c.Abort()
		return
	}
	c.Set(sessionContextKey, sess)
	c.Set(tokenContextKey, token)
	c.Set("user_id", string(sess.User()))
	c.Next()
}

func currentSession(c *gin.Context) (*session.Session, bool) {
	val, exists := c.Get(sessionContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return nil, false
	}
	sess, ok := val.(*session.Session)
	if !ok || sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return nil, false
	}
	return sess, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
