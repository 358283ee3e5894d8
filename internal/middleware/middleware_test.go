package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type countingLimiter struct {
	count int64
	keys  []string
	err   error
}

func (l *countingLimiter) RateLimitCheck(_ context.Context, key string, max int64, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.count++
	l.keys = append(l.keys, key)
	return l.count <= max, nil
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{}
	r := newRouter(RateLimitMiddleware(limiter, 2, time.Minute))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if w := do(r, "/ok", map[string]string{"X-API-Key": "sk-0123456789abcdefXYZ"}); w.Code != want {
			t.Errorf("request %d: status %d, want %d", i, w.Code, want)
		}
	}
	if limiter.keys[0] != "sk-0123456789abc" {
		t.Errorf("rate limit key = %q, want truncated key", limiter.keys[0])
	}
}

func TestRateLimitMiddleware_FailOpen(t *testing.T) {
	tests := []struct {
		name    string
		limiter RateLimiter
		max     int64
	}{
		{"nil limiter", nil, 1},
		{"disabled", &countingLimiter{}, 0},
		{"redis error", &countingLimiter{err: errors.New("connection refused")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(RateLimitMiddleware(tt.limiter, tt.max, time.Minute))
			for i := 0; i < 3; i++ {
				if w := do(r, "/ok", nil); w.Code != http.StatusOK {
					t.Fatalf("status %d, want 200", w.Code)
				}
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newRouter(RecoveryMiddleware())
	if w := do(r, "/panic", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newRouter(RequestIDMiddleware())

	w := do(r, "/ok", map[string]string{RequestIDHeader: "abc-123"})
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("propagated id = %q, want abc-123", got)
	}
	w = do(r, "/ok", nil)
	if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("generated id = %q, want a uuid", got)
	}
}
