// Package warden supervises a fixed set of station services: ordered
// startup, health probing, bounded restarts, and a REST/metrics surface.
// This file is a thin facade over the internal packages for embedding.
package warden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/config"
	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/history"
	"github.com/mirrorlake/warden/internal/history/factory"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/server"
	"github.com/mirrorlake/warden/internal/service"
	"github.com/mirrorlake/warden/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Descriptor = service.Descriptor

type Status = service.Status

type State = service.State

type SupervisorConfig = supervisor.Config

type Collector = metrics.Collector

type Breaker = breaker.Breaker

type BreakerConfig = breaker.Config

type HealthChecker = health.Checker

type HealthManager = health.Manager

type HealthReport = health.Report

type Event = history.Event

type Sink = history.Sink

type Config = config.File

// Supervisor is a thin facade over the internal supervisor. It provides a
// stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(cfg SupervisorConfig, log *slog.Logger, collector *Collector, sink Sink, descs ...Descriptor) (*Supervisor, error) {
	inner, err := supervisor.New(cfg, log, collector, sink, descs...)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) StartAll(ctx context.Context) error { return s.inner.StartAll(ctx) }
func (s *Supervisor) StopAll(ctx context.Context) error  { return s.inner.StopAll(ctx) }
func (s *Supervisor) Shutdown(ctx context.Context) error { return s.inner.Shutdown(ctx) }
func (s *Supervisor) StartMonitor()                      { s.inner.StartMonitor() }
func (s *Supervisor) StopMonitor()                       { s.inner.StopMonitor() }
func (s *Supervisor) Status(name string) (Status, error) { return s.inner.Status(name) }
func (s *Supervisor) Statuses() []Status                 { return s.inner.Statuses() }

func (s *Supervisor) StartService(ctx context.Context, name string) error {
	return s.inner.StartService(ctx, name)
}

func (s *Supervisor) StopService(ctx context.Context, name string) error {
	return s.inner.StopService(ctx, name)
}

// NewCollector builds a windowed in-memory metrics collector. capacity <= 0
// selects the default ring size.
func NewCollector(capacity int) *Collector { return metrics.NewCollector(capacity) }

// NewBreaker builds a circuit breaker; the config is validated fail-fast.
func NewBreaker(cfg BreakerConfig) (*Breaker, error) { return breaker.New(cfg) }

// NewHealthManager builds the component health aggregator.
func NewHealthManager(log *slog.Logger, collector *Collector, probeTimeout time.Duration, checkers ...HealthChecker) *HealthManager {
	return health.NewManager(log, collector, probeTimeout, checkers...)
}

// NewSinkFromDSN builds an audit sink (sqlite, postgres, clickhouse,
// opensearch) from its DSN.
func NewSinkFromDSN(dsn string) (Sink, error) { return factory.NewSinkFromDSN(dsn) }

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewHTTPServer starts the REST control plane on addr.
func NewHTTPServer(addr, basePath string, s *Supervisor, m *HealthManager, c *Collector, breakers []*Breaker) *http.Server {
	return server.NewServer(addr, server.NewRouter(s.inner, m, c, breakers, basePath))
}

// RegisterMetrics registers the prometheus collectors; nil selects the
// default registerer.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
