package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/rentflow/internal/clock"
	"github.com/hrygo/rentflow/internal/profile"
	"github.com/hrygo/rentflow/internal/timeout"
	"github.com/hrygo/rentflow/server"
	"github.com/hrygo/rentflow/server/invalidation"
	"github.com/hrygo/rentflow/server/service/contract"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/db"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "rentflow",
		Short: `Equipment rental and budget tracking service with a cached, self-refreshing API.`,
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := loadProfile()
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to open store", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				if err != http.ErrServerClosed {
					slog.Error("failed to start server", "error", err)
					cancel()
				}
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Renew due recurring contracts and complete expired ones, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile := loadProfile()
			if err := instanceProfile.Validate(); err != nil {
				return err
			}
			storeInstance, err := openStore(cmd.Context(), instanceProfile)
			if err != nil {
				return err
			}
			defer storeInstance.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout.SweepTimeout)
			defer cancel()
			scheduler := contract.NewScheduler(storeInstance, invalidation.NewBus(), clock.Default(), nil)
			result, err := scheduler.Sweep(ctx)
			fmt.Printf("completed=%d renewed=%d failed=%d\n", result.Completed, result.Renewed, result.Failed)
			return err
		},
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("cache-snapshot", "", `cache snapshot backend, one of "file", "database", "redis", "memcache", "none"`)
	rootCmd.PersistentFlags().String("sweep-spec", "", `cron spec of the contract sweep, "off" disables it`)
	rootCmd.PersistentFlags().Duration("cache-auto-refresh", 0, "interval of background collection refresh, 0 disables it")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "cache-snapshot", "sweep-spec", "cache-auto-refresh"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("rentflow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(sweepCmd)
}

// loadProfile reads flags and RENTFLOW_* variables. Flags win over the environment.
func loadProfile() *profile.Profile {
	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	p.FromEnv()
	if v := viper.GetString("cache-snapshot"); v != "" {
		p.SnapshotBackend = v
	}
	if v := viper.GetString("sweep-spec"); v != "" {
		p.SweepSpec = v
	}
	if v := viper.GetDuration("cache-auto-refresh"); v > 0 {
		p.AutoRefreshInterval = v
	}
	return p
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Rentflow %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Cache snapshot: %s\n", p.SnapshotBackend)

	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Access your rentflow instance at http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Access your rentflow instance at http://%s:%d\n", p.Addr, p.Port)
	}
	fmt.Printf("---\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
