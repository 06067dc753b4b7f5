package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"luminacorp/api/limiter"
	"luminacorp/api/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	l := limiter.New(2, time.Minute)

	r := gin.New()
	r.Use(middleware.RateLimit(l))
	r.POST("/track", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/track", nil))
		if w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/track", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("rejection must carry Retry-After")
	}
}
