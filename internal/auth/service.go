package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Service binds browser clients to their session with an HttpOnly cookie and
// issues the matching double-submit CSRF token.
type Service struct {
	headerName     string
	cookieName     string
	csrfCookieName string
	csrfHeaderName string
	cookieTTL      time.Duration
	secure         bool
}

// NewService configures cookie lifetimes; secure marks cookies HTTPS-only.
func NewService(cookieTTL time.Duration, secure bool) *Service {
	if cookieTTL <= 0 {
		cookieTTL = time.Hour
	}
	return &Service{
		headerName:     "Authorization",
		cookieName:     "readable_session",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		cookieTTL:      cookieTTL,
		secure:         secure,
	}
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// IssueCookies binds the client to sessionID and returns the CSRF token it must echo.
func (s *Service) IssueCookies(c *gin.Context, sessionID string) (string, error) {
	csrfToken, err := s.NewCSRFToken()
	if err != nil {
		return "", err
	}
	ttl := int(s.cookieTTL.Seconds())
	setCookie(c, &http.Cookie{
		Name:     s.cookieName,
		Value:    sessionID,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     s.csrfCookieName,
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	return csrfToken, nil
}

func (s *Service) ClearCookies(c *gin.Context) {
	for _, name := range []string{s.cookieName, s.csrfCookieName} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   s.secure,
			HttpOnly: name == s.cookieName,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie holding the session id.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}
