// Package datastore opens the postgres pool backing the login service and
// exposes its health to readiness checks and metrics.
package datastore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

const (
	DefaultMaxConns          = 10
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
)

type Options struct {
	URL               string
	MaxConns          int32
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	Logger            log.Logger
}

func (o Options) poolConfig() (*pgxpool.Config, error) {
	if o.URL == "" {
		return nil, xerrors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(o.URL)
	if err != nil {
		// pgx errors can echo the dsn, keep the password out of logs
		return nil, xerrors.New("parse database url: invalid connection string")
	}
	cfg.MaxConns = DefaultMaxConns
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	cfg.HealthCheckPeriod = DefaultHealthCheckPeriod
	if o.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = o.HealthCheckPeriod
	}
	cfg.ConnConfig.ConnectTimeout = DefaultConnectTimeout
	if o.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = o.ConnectTimeout
	}
	return cfg, nil
}

// Open creates the pool and verifies one round trip before returning it.
func Open(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	cfg, err := opts.poolConfig()
	if err != nil {
		return nil, err
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, "new postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnConfig.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(err, "ping postgres")
	}

	L.Info(ctx, "postgres pool ready",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return pool, nil
}

// RegisterPoolMetrics exports pool occupancy gauges, read on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	if reg == nil || pool == nil {
		return xerrors.New("registry and pool are required")
	}
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_" + name,
			Help: help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	cs := []prometheus.Collector{
		gauge("total_conns", "Connections currently open in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("idle_conns", "Idle connections in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("acquired_conns", "Connections checked out of the pool.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("max_conns", "Configured pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return xerrors.Wrap(err, "register pool metric")
		}
	}
	return nil
}
