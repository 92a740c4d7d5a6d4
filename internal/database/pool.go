package database

import (
	"context"
	"log/slog"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type PoolStats struct {
	MaxOpenConns      int           `json:"max_open_connections"`
	OpenConns         int           `json:"open_connections"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

type HealthCheck struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	LockTimeout  time.Duration `json:"lock_timeout"`
	Error        string        `json:"error,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Stats        PoolStats     `json:"stats"`
	Timestamp    time.Time     `json:"timestamp"`
}

func (db *DB) GetPoolStats() PoolStats {
	stats := db.Stats()
	return PoolStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// HealthCheck пингует базу; насыщенный пул отмечается как degraded
func (db *DB) HealthCheck(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Status:      StatusHealthy,
		LockTimeout: db.lockTimeout,
		Timestamp:   start,
		Stats:       db.GetPoolStats(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := db.PingContext(pingCtx)
	check.ResponseTime = time.Since(start)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		slog.Error("Database health check failed", "error", err)
		return check
	}

	check.Warnings = poolWarnings(check.Stats, db.lockTimeout)
	if len(check.Warnings) > 0 {
		check.Status = StatusDegraded
		slog.Warn("Database pool is under pressure",
			"warnings", check.Warnings,
			"in_use", check.Stats.InUse,
			"max_open", check.Stats.MaxOpenConns)
	}
	return check
}

func poolWarnings(stats PoolStats, lockTimeout time.Duration) []string {
	var warnings []string
	if stats.MaxOpenConns > 0 && stats.InUse > stats.MaxOpenConns*9/10 {
		warnings = append(warnings, "connection usage above 90%")
	}
	// Среднее ожидание соединения сопоставимо с lock_timeout
	if stats.WaitCount > 0 && lockTimeout > 0 {
		if avg := stats.WaitDuration / time.Duration(stats.WaitCount); avg > lockTimeout/2 {
			warnings = append(warnings, "connection wait approaches lock timeout")
		}
	}
	return warnings
}
