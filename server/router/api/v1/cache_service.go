package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/internal/observability"
	"github.com/hrygo/rentflow/store/cache"
)

// CacheStatsResponse describes the cache contents and per-kind fetch counters.
type CacheStatsResponse struct {
	Cache    cache.Stats                           `json:"cache"`
	Fetch    map[string]observability.KindSnapshot `json:"fetch"`
	InFlight int                                   `json:"inFlight"`
}

// InvalidateResponse reports how many cache entries were dropped.
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

// GetCacheStats returns the cache statistics.
// GET /api/v1/cache/stats
func (s *APIV1Service) GetCacheStats(c echo.Context) error {
	resp := CacheStatsResponse{
		Cache:    s.Loaders.Stats(),
		InFlight: s.Loaders.InFlight(),
	}
	if s.Metrics != nil {
		resp.Fetch = s.Metrics.Snapshot()
	}
	return c.JSON(http.StatusOK, resp)
}

// GetFetchMetrics returns the per-kind fetch counters alone.
// GET /api/v1/system/metrics
func (s *APIV1Service) GetFetchMetrics(c echo.Context) error {
	if s.Metrics == nil {
		return c.JSON(http.StatusOK, map[string]observability.KindSnapshot{})
	}
	return c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

// InvalidateCollection drops every cached entry of one collection and notifies its observers.
// DELETE /api/v1/cache/:kind
func (s *APIV1Service) InvalidateCollection(c echo.Context) error {
	kind, ok := cache.ParseKind(c.Param("kind"))
	if !ok {
		return writeError(c, apperrors.NotFound("unknown collection "+c.Param("kind")))
	}
	n, err := s.Loaders.Invalidate(kind)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, InvalidateResponse{Invalidated: n})
}

// InvalidateAll clears the cache.
// DELETE /api/v1/cache
func (s *APIV1Service) InvalidateAll(c echo.Context) error {
	return c.JSON(http.StatusOK, InvalidateResponse{Invalidated: s.Loaders.InvalidateAll()})
}
