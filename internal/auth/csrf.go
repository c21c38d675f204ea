package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware enforces double-submit CSRF protection for cookie-bound requests.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		if strings.HasPrefix(strings.ToLower(c.GetHeader(s.headerName)), "bearer ") {
			// explicit bearer clients do not carry ambient cookies
			c.Next()
			return
		}
		headerToken := c.GetHeader(s.csrfHeaderName)
		cookieToken, err := c.Cookie(s.csrfCookieName)
		if err != nil || headerToken == "" || cookieToken == "" ||
			subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
