package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_alerts",
			Help: "Currently open alerts across both tiers",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM active_alerts")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "pois_pending_report",
			Help: "Places of interest with cached alerts awaiting a report",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM pois WHERE cardinality(cached_alerts) > 0 AND cardinality(active_alerts) = 0")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
