package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"transactions": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("transactions")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"transactions": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("transactions")(okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil)
		req.Header.Set("X-Forwarded-For", ip+", 192.168.1.1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s to get its own bucket, got %d", ip, res.Code)
		}
	}
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("alerts")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("unlimited route rejected request %d", i)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"transactions": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	limiter.clockNow = func() time.Time { return now }

	limiter.obtainLimiter("transactions|a", RateLimit{RequestsPerMinute: 60, Burst: 1})
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("transactions|b", RateLimit{RequestsPerMinute: 60, Burst: 1})

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["transactions|a"]; ok {
		t.Fatalf("idle visitor should have been swept")
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected one visitor, got %d", len(limiter.visitors))
	}
}
