package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/hrygo/rentflow/internal/profile"
	"github.com/hrygo/rentflow/server/internal/observability"
	ratelimit "github.com/hrygo/rentflow/server/middleware"
	"github.com/hrygo/rentflow/server/service/collection"
	"github.com/hrygo/rentflow/server/service/contract"
)

// Write endpoints allow this many requests per second per client IP.
const (
	writeRate  = 10
	writeBurst = 20
)

type APIV1Service struct {
	Profile     *profile.Profile
	Loaders     *collection.Loaders
	Collections *collection.Service
	Scheduler   *contract.Scheduler
	Metrics     *observability.Metrics

	logger      *slog.Logger
	rateLimiter *ratelimit.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, loaders *collection.Loaders, collections *collection.Service, scheduler *contract.Scheduler, metrics *observability.Metrics, logger *slog.Logger) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Profile:     profile,
		Loaders:     loaders,
		Collections: collections,
		Scheduler:   scheduler,
		Metrics:     metrics,
		logger:      logger.With("component", "api"),
		rateLimiter: ratelimit.NewRateLimiter(rate.Limit(writeRate), writeBurst),
	}
}

// Register mounts the v1 routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.Use(middleware.CORS())
	g.Use(middleware.RequestID())
	g.Use(s.requestContext)

	writes := s.rateLimiter.Middleware()

	g.GET("/cache/stats", s.GetCacheStats)
	g.DELETE("/cache", s.InvalidateAll)
	g.DELETE("/cache/:kind", s.InvalidateCollection)

	g.POST("/clients", s.CreateClient, writes)
	g.POST("/equipments", s.CreateEquipment, writes)

	g.POST("/contracts", s.CreateContract, writes)
	g.GET("/contracts/:id", s.GetContract)
	g.PATCH("/contracts/:id/recurrence", s.UpdateRecurrence, writes)
	g.POST("/contracts/:id/pause", s.PauseContract, writes)
	g.POST("/contracts/:id/resume", s.ResumeContract, writes)
	g.POST("/contracts/:id/cancel", s.CancelContract, writes)
	g.GET("/contracts/:id/occurrences", s.ListOccurrences)

	g.POST("/schedule/compute", s.ComputeSchedule)

	g.GET("/system/metrics", s.GetFetchMetrics)

	// Must stay last: every static segment above takes precedence.
	g.GET("/:kind", s.GetCollection)
}

// requestContext attaches a request-scoped logger and logs each call on completion.
func (s *APIV1Service) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		reqCtx := observability.NewRequestContextWithID(s.logger, requestID, c.Request().Method+" "+c.Path())
		c.SetRequest(c.Request().WithContext(observability.WithRequestContext(c.Request().Context(), reqCtx)))

		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if !c.Response().Committed {
				status = http.StatusInternalServerError
			}
		}
		reqCtx.Done(status, err)
		return err
	}
}
