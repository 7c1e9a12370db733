package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/rentflow/internal/clock"
	"github.com/hrygo/rentflow/internal/profile"
	"github.com/hrygo/rentflow/internal/timeout"
	"github.com/hrygo/rentflow/server/fetch"
	"github.com/hrygo/rentflow/server/internal/observability"
	"github.com/hrygo/rentflow/server/invalidation"
	apiv1 "github.com/hrygo/rentflow/server/router/api/v1"
	"github.com/hrygo/rentflow/server/runner/sweep"
	"github.com/hrygo/rentflow/server/service/collection"
	"github.com/hrygo/rentflow/server/service/contract"
	"github.com/hrygo/rentflow/server/timezone"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// snapshotName is the cache_snapshot row used by the database snapshot backend.
const snapshotName = "default"

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	cache      *cache.Store
	loaders    *collection.Loaders
	scheduler  *contract.Scheduler
	slotClose  func() error
	logger     *slog.Logger

	runnerCancelFuncs []context.CancelFunc
	stopObserving     func()
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
		logger:  slog.Default().With("component", "server"),
	}

	loc, err := timezone.ParseTimezone(profile.Timezone)
	if err != nil {
		return nil, err
	}
	slot, err := s.snapshotSlot(ctx)
	if err != nil {
		return nil, err
	}

	ttls := make(map[cache.Kind]time.Duration, len(profile.CacheTTL))
	for name, ttl := range profile.CacheTTL {
		if kind, ok := cache.ParseKind(name); ok {
			ttls[kind] = ttl
		}
	}
	s.cache = cache.New(cache.Config{Slot: slot, TTLs: ttls})
	if err := s.cache.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to init cache")
	}

	clk := clock.Default()
	bus := invalidation.NewBus()
	metrics := observability.NewMetrics()

	var limiter *rate.Limiter
	if profile.RefreshRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(profile.RefreshRate), max(1, int(profile.RefreshRate)))
	}

	collections := collection.NewService(store, bus, clk).WithLocation(loc)
	s.loaders = collection.NewLoaders(collections, fetch.Config{
		Store:   s.cache,
		Bus:     bus,
		Metrics: metrics,
		Limiter: limiter,
	})
	s.scheduler = contract.NewScheduler(store, bus, clk, nil)

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	apiv1.NewAPIV1Service(profile, s.loaders, collections, s.scheduler, metrics, nil).Register(echoServer)

	return s, nil
}

// snapshotSlot opens the backend the cache persists its snapshot to.
func (s *Server) snapshotSlot(ctx context.Context) (cache.Slot, error) {
	switch s.Profile.SnapshotBackend {
	case "file", "":
		return cache.NewFileSlot(s.Profile.SnapshotPath()), nil
	case "database":
		return s.Store.CacheSlot(snapshotName), nil
	case "redis":
		config := cache.DefaultRedisConfig()
		config.Addr = s.Profile.RedisAddr
		config.Password = s.Profile.RedisPassword
		config.DB = s.Profile.RedisDB
		slot, err := cache.NewRedisSlot(ctx, config)
		if err != nil {
			return nil, err
		}
		s.slotClose = slot.Close
		return slot, nil
	case "memcache":
		return cache.NewMemcacheSlot(strings.Split(s.Profile.MemcacheAddr, ",")...), nil
	case "none":
		return cache.NopSlot{}, nil
	}
	return nil, errors.Errorf("unsupported cache snapshot backend %q", s.Profile.SnapshotBackend)
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	s.StartBackgroundRunners(ctx)

	go func() {
		s.echoServer.Listener = listener
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	s.logger.Info("rentflow started", "address", address, "mode", s.Profile.Mode, "driver", s.Profile.Driver)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ShutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")

	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}
	if s.stopObserving != nil {
		s.stopObserving()
	}

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	s.loaders.Close()
	if err := s.cache.Dispose(); err != nil {
		slog.Error("failed to persist cache", "error", err)
	}
	if s.slotClose != nil {
		if err := s.slotClose(); err != nil {
			slog.Error("failed to close cache snapshot slot", "error", err)
		}
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server stopped properly")
}

// StartBackgroundRunners warms the cache and starts the sweep and auto-refresh loops.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	prefetchCtx, prefetchCancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, prefetchCancel)
	go func() {
		if err := s.loaders.Prefetch(prefetchCtx); err != nil {
			s.logger.Warn("cache prefetch failed", "error", err)
		}
	}()

	if s.Profile.SweepEnabled() {
		runner, err := sweep.NewRunner(s.scheduler, s.Profile.SweepSpec)
		if err != nil {
			s.logger.Error("contract sweep disabled", "error", err)
		} else {
			sweepCtx, sweepCancel := context.WithCancel(ctx)
			s.runnerCancelFuncs = append(s.runnerCancelFuncs, sweepCancel)
			go runner.Run(sweepCtx)
			s.logger.Info("contract sweep started", "spec", s.Profile.SweepSpec)
		}
	}

	if s.Profile.AutoRefreshInterval > 0 {
		s.stopObserving = s.loaders.Observe(s.Profile.AutoRefreshInterval)
		s.logger.Info("collection auto refresh started", "interval", s.Profile.AutoRefreshInterval)
	}
}
