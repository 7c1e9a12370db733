package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the rentflow server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where rentflow stores its records
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Cache configuration
	SnapshotBackend     string                   // RENTFLOW_CACHE_SNAPSHOT (file, database, redis, memcache, none; default: file)
	RedisAddr           string                   // RENTFLOW_CACHE_REDIS_ADDR
	RedisPassword       string                   // RENTFLOW_CACHE_REDIS_PASSWORD
	RedisDB             int                      // RENTFLOW_CACHE_REDIS_DB (default: 0)
	MemcacheAddr        string                   // RENTFLOW_CACHE_MEMCACHE_ADDR
	AutoRefreshInterval time.Duration            // RENTFLOW_CACHE_AUTO_REFRESH (default: 0, disabled)
	RefreshRate         float64                  // RENTFLOW_CACHE_REFRESH_RATE background refetches per second (default: 20)
	CacheTTL            map[string]time.Duration // RENTFLOW_CACHE_TTL_<KIND>, e.g. RENTFLOW_CACHE_TTL_RENTALS=5m

	// Scheduler configuration
	SweepSpec string // RENTFLOW_SWEEP_SPEC cron spec (default: @every 5m, "off" disables)
	// Timezone is the IANA zone of the calendar dates in collection queries (RENTFLOW_TIMEZONE, default: UTC)
	Timezone string
}

// SnapshotBackends lists the accepted values of SnapshotBackend.
var SnapshotBackends = []string{"file", "database", "redis", "memcache", "none"}

// cacheKinds are the collection names accepted in RENTFLOW_CACHE_TTL_<KIND>.
var cacheKinds = []string{"clients", "equipments", "budgets", "rentals", "dashboard-metrics"}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads the cache and scheduler configuration from environment variables.
// Invalid values are logged and replaced by defaults.
func (p *Profile) FromEnv() {
	getDuration := func(key string, defaultValue time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return defaultValue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			slog.Warn("invalid duration in environment", slog.String("key", key), slog.String("value", raw))
			return defaultValue
		}
		return d
	}

	p.SnapshotBackend = getEnvOrDefault("RENTFLOW_CACHE_SNAPSHOT", "file")
	p.RedisAddr = os.Getenv("RENTFLOW_CACHE_REDIS_ADDR")
	p.RedisPassword = os.Getenv("RENTFLOW_CACHE_REDIS_PASSWORD")
	if raw := os.Getenv("RENTFLOW_CACHE_REDIS_DB"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			p.RedisDB = n
		}
	}
	p.MemcacheAddr = os.Getenv("RENTFLOW_CACHE_MEMCACHE_ADDR")
	p.AutoRefreshInterval = getDuration("RENTFLOW_CACHE_AUTO_REFRESH", 0)
	p.RefreshRate = 20
	if raw := os.Getenv("RENTFLOW_CACHE_REFRESH_RATE"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			p.RefreshRate = f
		}
	}

	p.CacheTTL = make(map[string]time.Duration)
	for _, kind := range cacheKinds {
		key := "RENTFLOW_CACHE_TTL_" + strings.ToUpper(strings.ReplaceAll(kind, "-", "_"))
		if d := getDuration(key, 0); d > 0 {
			p.CacheTTL[kind] = d
		}
	}

	p.SweepSpec = getEnvOrDefault("RENTFLOW_SWEEP_SPEC", "@every 5m")
	p.Timezone = getEnvOrDefault("RENTFLOW_TIMEZONE", "UTC")
}

// SweepEnabled reports whether the contract sweep job should be scheduled.
func (p *Profile) SweepEnabled() bool {
	return p.SweepSpec != "" && p.SweepSpec != "off"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "rentflow")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/rentflow"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("rentflow_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.SnapshotBackend == "" {
		p.SnapshotBackend = "file"
	}
	valid := false
	for _, b := range SnapshotBackends {
		if p.SnapshotBackend == b {
			valid = true
			break
		}
	}
	if !valid {
		return errors.Errorf("unsupported cache snapshot backend %q", p.SnapshotBackend)
	}
	if p.SnapshotBackend == "redis" && p.RedisAddr == "" {
		return errors.New("redis snapshot backend requires RENTFLOW_CACHE_REDIS_ADDR")
	}
	if p.SnapshotBackend == "memcache" && p.MemcacheAddr == "" {
		return errors.New("memcache snapshot backend requires RENTFLOW_CACHE_MEMCACHE_ADDR")
	}

	return nil
}

// SnapshotPath is the file used by the file snapshot backend.
func (p *Profile) SnapshotPath() string {
	return filepath.Join(p.Data, fmt.Sprintf("rentflow_%s.cache.json", p.Mode))
}
