package handlers_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/aspis-finance/treasury/api/handlers"
)

func TestRateLimiter_Allow(t *testing.T) {
	// Allows 5 requests per second with burst of 5.
	limiter := handlers.NewRateLimiter(rate.Limit(5), 5)

	ip := "192.168.1.1"

	// First 5 requests should be allowed (burst).
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(ip), "request %d should be allowed", i+1)
	}

	// 6th request should be denied (burst exhausted).
	assert.False(t, limiter.Allow(ip), "request 6 should be denied")

	// Different IP should have its own limit.
	otherIP := "192.168.1.2"
	assert.True(t, limiter.Allow(otherIP), "different IP should be allowed")
}

func TestRateLimiter_Refill(t *testing.T) {
	// Allows 10 requests per second with burst of 2.
	limiter := handlers.NewRateLimiter(rate.Limit(10), 2)

	ip := "192.168.1.1"

	// Exhaust burst.
	assert.True(t, limiter.Allow(ip))
	assert.True(t, limiter.Allow(ip))
	assert.False(t, limiter.Allow(ip))

	// Wait for a token to refill (100ms = 1 token at 10/sec).
	time.Sleep(150 * time.Millisecond)

	assert.True(t, limiter.Allow(ip), "should be allowed after refill")
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	limiter := handlers.NewRateLimiter(rate.Limit(1), 1)
	ip := "192.168.1.100"

	allowed, _ := limiter.AllowWithRetry(ip)
	assert.True(t, allowed)

	allowed, retryAfter := limiter.AllowWithRetry(ip)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}
