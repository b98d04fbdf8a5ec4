package observability

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Invitation metrics
	InvitationsCreatedTotal  prometheus.Counter
	InvitationsAcceptedTotal prometheus.Counter
	InvitationsRevokedTotal  prometheus.Counter
	InvitationsPurgedTotal   prometheus.Counter

	// Authorization metrics
	ScopeChecksTotal      *prometheus.CounterVec
	PermissionResolutions *prometheus.CounterVec

	// Permission cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		InvitationsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_invitations_created_total",
			Help: "Total number of invitations created",
		}),
		InvitationsAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_invitations_accepted_total",
			Help: "Total number of invitations accepted",
		}),
		InvitationsRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_invitations_revoked_total",
			Help: "Total number of invitations revoked",
		}),
		InvitationsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_invitations_purged_total",
			Help: "Total number of expired invitation rows purged",
		}),
		ScopeChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_scope_checks_total",
			Help: "Total number of organization scope checks",
		}, []string{"outcome"}),
		PermissionResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_permission_resolutions_total",
			Help: "Total number of permission set resolutions",
		}, []string{"kind"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_permission_cache_hits_total",
			Help: "Total number of permission cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_permission_cache_misses_total",
			Help: "Total number of permission cache misses",
		}),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.InvitationsCreatedTotal,
		m.InvitationsAcceptedTotal,
		m.InvitationsRevokedTotal,
		m.InvitationsPurgedTotal,
		m.ScopeChecksTotal,
		m.PermissionResolutions,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// UpdateDBStats refreshes the database pool gauges from db.Stats()
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
