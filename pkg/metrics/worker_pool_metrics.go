package metrics

import (
	"database/sql"
	"time"
)

// DBPoolStats is the subset of sql.DBStats reported by /ready.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// AssessDBPoolHealth grades utilisation: >=95% unhealthy, >=80% degraded.
// Long cumulative waits also degrade an otherwise healthy pool.
func AssessDBPoolHealth(s DBPoolStats) PoolHealthStatus {
	if s.MaxOpenConnections == 0 {
		return PoolHealthy
	}
	u := float64(s.InUse) / float64(s.MaxOpenConnections)
	switch {
	case u >= 0.95:
		return PoolUnhealthy
	case u >= 0.80:
		return PoolDegraded
	case s.WaitCount > 0 && s.WaitDuration > 5*time.Second:
		return PoolDegraded
	}
	return PoolHealthy
}
