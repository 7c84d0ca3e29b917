package pgts

import (
	"context"
	"time"

	"github.com/dleclere/pg-ts/driver"
)

// HealthStatus represents the database health status
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	PoolStats PoolStats     `json:"pool_stats"`
}

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxConnections    int           `json:"max_connections"`
	OpenConnections   int           `json:"open_connections"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	AcquireCount      int64         `json:"acquire_count"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
}

// Health performs a health check with detailed status
func (p *Pool) Health(ctx context.Context) HealthStatus {
	start := time.Now()

	err := p.Ping(ctx)
	latency := time.Since(start)

	status := HealthStatus{
		Healthy:   err == nil,
		Latency:   latency,
		PoolStats: p.Stats(),
	}

	if err != nil {
		status.Error = err.Error()
	}

	return status
}

// IsHealthy returns true if the database is reachable
func (p *Pool) IsHealthy(ctx context.Context) bool {
	return p.Ping(ctx) == nil
}

// Ping verifies a session can be established. Failures are
// *PoolCheckoutError.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return &PoolCheckoutError{Cause: err}
	}
	return nil
}

// Stats returns connection pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStatsFromDriver(p.pool.Stats())
}

// PoolStatsFromDriver converts backend statistics to PoolStats
func PoolStatsFromDriver(stats driver.Stats) PoolStats {
	return PoolStats{
		MaxConnections:    stats.MaxConns,
		OpenConnections:   stats.TotalConns,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		AcquireCount:      stats.AcquireCount,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxLifetimeClosed: stats.LifetimeClosed,
		MaxIdleTimeClosed: stats.IdleTimeClosed,
	}
}
