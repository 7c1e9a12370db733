package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/hrygo/rentflow/internal/clock"
)

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	e := echo.New()
	e.Use(NewRateLimiter(rate.Limit(0.001), 1).Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_EvictsIdleKeys(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(rate.Limit(0.001), 1).WithIdleTTL(time.Minute, clk)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	for i := 0; i < 50; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 51, rl.Len())

	clk.Advance(30 * time.Second)
	assert.False(t, rl.Allow("a"))

	// Only "a" was seen within the last minute.
	clk.Advance(45 * time.Second)
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 1, rl.Len())

	// An evicted key starts over with a full bucket.
	clk.Advance(2 * time.Minute)
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 1, rl.Len())
	assert.True(t, rl.Allow("a"))
}
