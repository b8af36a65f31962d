package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/config"
	"github.com/example/teetime-scheduler/internal/db"
	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/logger"
	"github.com/example/teetime-scheduler/internal/metrics"
	"github.com/example/teetime-scheduler/internal/migrate"
	"github.com/example/teetime-scheduler/internal/postgres"
	"github.com/example/teetime-scheduler/internal/scheduler"
	"github.com/example/teetime-scheduler/internal/sqlite"
	"github.com/example/teetime-scheduler/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// store is what either backend provides.
type store interface {
	auth.Store
	catalog.Store
	vault.Store
	booking.Store
	Ping(ctx context.Context) error
}

// app is the wired service graph every command works against.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	store store
	close func()

	registry *prometheus.Registry
	metrics  *metrics.Collector

	auth     *auth.Service
	courses  *catalog.Catalog
	vault    *vault.Vault
	bookings *booking.Service
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.SetupDefault(os.Stderr, logger.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg config.Config, migrateUp bool) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		if migrateUp {
			if err := migrate.Up(cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
		}
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := d.Ping(ctx); err != nil {
			d.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		return postgres.NewStore(d), d.Close, nil
	}
}

func newApp(ctx context.Context, migrateUp bool) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, closeFn, err := openStore(ctx, cfg, migrateUp)
	if err != nil {
		return nil, err
	}
	cipher, err := vault.NewCipher(cfg.VaultKey)
	if err != nil {
		closeFn()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	authSvc := &auth.Service{
		Store:   st,
		Codec:   auth.NewCodec(cfg.CookieHashKey, cfg.CookieBlockKey, cfg.SessionMaxAge),
		Log:     log.With(slog.String("component", "auth")),
		Metrics: col,
	}
	courses := catalog.New(st, time.Minute)
	v := &vault.Vault{
		Store:   st,
		Courses: courses,
		Cipher:  cipher,
		Log:     log.With(slog.String("component", "vault")),
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		close:    closeFn,
		registry: reg,
		metrics:  col,
		auth:     authSvc,
		courses:  courses,
		vault:    v,
		bookings: &booking.Service{
			Store:       st,
			Courses:     courses,
			Credentials: v,
			Users:       authSvc,
			AllowCancel: cfg.AllowCancel,
			Log:         log.With(slog.String("component", "booking")),
			Metrics:     col,
		},
	}, nil
}

// runner routes the placeholder logic types to the simulator and everything
// else to EXECUTOR.
func (a *app) runner() executor.Executor {
	sim := executor.NewSimulator()
	var def executor.Executor = sim
	if a.cfg.Executor == "http" {
		def = executor.NewHTTPRunner(a.cfg.ExecutorURL)
	}
	return &executor.Router{
		Default: def,
		ByLogic: map[string]executor.Executor{
			catalog.LogicSimulate:    sim,
			catalog.LogicFrear:       sim,
			catalog.LogicSchenectady: sim,
		},
	}
}

func (a *app) dispatcher() *scheduler.Dispatcher {
	return &scheduler.Dispatcher{
		Requests:    a.bookings,
		Credentials: a.vault,
		Courses:     a.courses,
		Executor:    a.runner(),
		Interval:    a.cfg.DispatchInterval,
		Batch:       a.cfg.DispatchBatch,
		RunTimeout:  a.cfg.RunTimeout,
		MaxLateness: a.cfg.MaxLateness,
		Log:         a.log,
		Metrics:     a.metrics,
	}
}
