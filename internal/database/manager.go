// Package database coordinates the optional job cache and telemetry stores.
// Either store may be disabled by leaving its configuration nil.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/multipool/internal/database/influx"
	"github.com/bardlex/multipool/internal/database/redis"
	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/pkg/circuit"
	"github.com/bardlex/multipool/pkg/errors"
)

// Manager owns the Redis and InfluxDB connections
type Manager struct {
	Redis  *redis.Client
	Influx *influx.Client

	circuitBreaker *circuit.Breaker
}

// Config holds configuration for the stores. A nil entry disables it.
type Config struct {
	Redis  *redis.Config
	Influx *influx.Config
}

// NewManager connects to every configured store
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		circuitBreaker: circuit.New("redis", &circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
	}

	if cfg.Redis != nil {
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		m.Redis = client
	}

	if cfg.Influx != nil {
		client, err := influx.NewClient(cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeNetwork, "influx_connection",
				"failed to connect to InfluxDB")
			if m.Redis != nil {
				if closeErr := m.Redis.Close(); closeErr != nil {
					return nil, origErr.WithContext("cleanup_error", closeErr.Error())
				}
			}
			return nil, origErr
		}
		m.Influx = client
	}

	return m, nil
}

// Sinks returns a jobmanager.Sink per configured store. Redis writes go
// through a circuit breaker so an unreachable cache fails fast.
func (m *Manager) Sinks(algorithm string, extraNonce2Size int) []jobmanager.Sink {
	var sinks []jobmanager.Sink
	if m.Redis != nil {
		cache := redis.NewJobCache(m.Redis, algorithm, extraNonce2Size)
		sinks = append(sinks, jobmanager.SinkFunc(func(ctx context.Context, e jobmanager.Event) error {
			return m.circuitBreaker.Execute(ctx, func() error {
				return cache.HandleEvent(ctx, e)
			})
		}))
	}
	if m.Influx != nil {
		sinks = append(sinks, m.Influx)
	}
	return sinks
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// StartPeriodicTasks flushes buffered InfluxDB writes until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
