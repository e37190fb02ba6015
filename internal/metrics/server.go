package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates an HTTP server serving /metrics (Prometheus) and /healthz.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// RegisterDBStats exposes database/sql pool statistics as Prometheus gauges.
func RegisterDBStats(db *sql.DB) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_open_conns",
			Help: "Number of established connections, in use and idle",
		}, func() float64 {
			return float64(db.Stats().OpenConnections)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_in_use_conns",
			Help: "Number of connections currently in use",
		}, func() float64 {
			return float64(db.Stats().InUse)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_idle_conns",
			Help: "Number of idle connections",
		}, func() float64 {
			return float64(db.Stats().Idle)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_max_open_conns",
			Help: "Maximum number of open connections",
		}, func() float64 {
			return float64(db.Stats().MaxOpenConnections)
		}),
	)
}
