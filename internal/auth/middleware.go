package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionIDContextKey = "auth_session_id"

// RequirePathSession rejects requests whose session credential does not match the :param path segment.
func (s *Service) RequirePathSession(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := s.extractSessionID(c)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session required"})
			return
		}
		if c.Param(param) != sessionID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session mismatch"})
			return
		}
		c.Set(sessionIDContextKey, sessionID)
		c.Next()
	}
}

// SessionIDFromContext retrieves the session id accepted by RequirePathSession.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

func (s *Service) extractSessionID(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if id, err := c.Cookie(s.cookieName); err == nil && id != "" {
		return id
	}
	return ""
}
