package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/issue/:id", func(c *gin.Context) {
		token, err := svc.IssueCookies(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"csrf_token": token})
	})
	guarded := router.Group("/sessions/:id")
	guarded.Use(svc.RequirePathSession("id"), svc.CSRFMiddleware())
	guarded.GET("", func(c *gin.Context) {
		id, _ := SessionIDFromContext(c)
		c.String(http.StatusOK, id)
	})
	guarded.POST("", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func issue(t *testing.T, router *gin.Engine, id string) (session, csrf *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/issue/"+id, nil))
	for _, ck := range rec.Result().Cookies() {
		switch ck.Name {
		case "readable_session":
			session = ck
		case "csrf_token":
			csrf = ck
		}
	}
	if session == nil || csrf == nil {
		t.Fatalf("cookies not issued: %v", rec.Result().Cookies())
	}
	if !session.HttpOnly || csrf.HttpOnly {
		t.Fatalf("unexpected HttpOnly flags")
	}
	return session, csrf
}

func TestRequirePathSession(t *testing.T) {
	svc := NewService(time.Hour, false)
	router := newTestRouter(svc)
	sessionCk, _ := issue(t, router, "abc")

	cases := []struct {
		name   string
		path   string
		cookie *http.Cookie
		bearer string
		want   int
	}{
		{"no credential", "/sessions/abc", nil, "", http.StatusUnauthorized},
		{"cookie match", "/sessions/abc", sessionCk, "", http.StatusOK},
		{"cookie mismatch", "/sessions/other", sessionCk, "", http.StatusForbidden},
		{"bearer match", "/sessions/xyz", nil, "xyz", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			if tc.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	svc := NewService(time.Hour, false)
	router := newTestRouter(svc)
	sessionCk, csrfCk := issue(t, router, "abc")

	post := func(header string, withCSRFCookie bool) int {
		req := httptest.NewRequest(http.MethodPost, "/sessions/abc", nil)
		req.AddCookie(sessionCk)
		if withCSRFCookie {
			req.AddCookie(csrfCk)
		}
		if header != "" {
			req.Header.Set(svc.CSRFHeaderName(), header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := post("", true); got != http.StatusForbidden {
		t.Fatalf("missing header: got %d", got)
	}
	if got := post("wrong", true); got != http.StatusForbidden {
		t.Fatalf("wrong header: got %d", got)
	}
	if got := post(csrfCk.Value, false); got != http.StatusForbidden {
		t.Fatalf("missing cookie: got %d", got)
	}
	if got := post(csrfCk.Value, true); got != http.StatusNoContent {
		t.Fatalf("valid token: got %d", got)
	}
}

func TestCSRFSkippedForBearer(t *testing.T) {
	router := newTestRouter(NewService(time.Hour, false))
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer request rejected: %d", rec.Code)
	}
}

func TestNewCSRFTokenIsRandom(t *testing.T) {
	svc := NewService(0, true)
	a, err := svc.NewCSRFToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := svc.NewCSRFToken()
	if len(a) != 64 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
