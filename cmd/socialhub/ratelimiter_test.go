package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("127.0.0.1") {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_Refill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(5, time.Second)
	rl.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("192.168.1.1"), "request %d", i+1)
	}
	assert.False(t, rl.Allow("192.168.1.1"))

	now = now.Add(time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("192.168.1.1"), "request %d after refill", i+1)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		assert.True(t, rl.Allow(ip))
		assert.True(t, rl.Allow(ip))
		assert.False(t, rl.Allow(ip), "third request from %s", ip)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	fixed := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.0.%d", id%5)
			for j := 0; j < 20; j++ {
				if rl.Allow(ip) {
					allowed.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed.Load())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 10, rl.size())

	now = now.Add(time.Second)
	rl.Allow("10.0.0.1")
	assert.Equal(t, 0, rl.Cleanup())

	now = now.Add(1500 * time.Millisecond)
	assert.Equal(t, 9, rl.Cleanup())
	assert.Equal(t, 1, rl.size())
}

func TestRateLimiter_Middleware(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.RemoteAddr = "203.0.113.10:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
