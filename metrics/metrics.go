package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ArrivalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_arrivals_total",
			Help: "Player arrival events by outcome",
		},
		[]string{"result"}, // attached|redelivered|dropped|failed
	)

	SessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaker_sessions_created_total",
			Help: "Sessions created for a matchmaking tag",
		},
	)

	SessionsReadyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaker_sessions_ready_total",
			Help: "Sessions that reached zero capacity",
		},
	)

	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_allocations_total",
			Help: "Server allocation attempts for ready sessions",
		},
		[]string{"result"}, // success|no_server|failure
	)

	MatchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_match_outcomes_total",
			Help: "Completed match requests by outcome",
		},
		[]string{"status"}, // matched|timed_out
	)

	NotificationsDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaker_notifications_delivered_total",
			Help: "Server assignments delivered to local match requests",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchmaker_sweep_duration_seconds",
			Help:    "Duration of one allocation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matchmaker_batch_duration_seconds",
			Help:    "Duration of batch processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"batch"}, // arrivals|notifications
	)

	ReadySessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_ready_sessions",
		Help: "Sessions waiting for a server",
	})

	AvailableServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_available_servers",
		Help: "Servers in the available pool",
	})

	WaitingPlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_waiting_players",
		Help: "Players with a matchmaking timestamp",
	})

	InflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_inflight_match_requests",
		Help: "Match requests waiting on this replica",
	})
)

func init() {
	prometheus.MustRegister(
		ArrivalsTotal,
		SessionsCreatedTotal,
		SessionsReadyTotal,
		AllocationsTotal,
		MatchOutcomesTotal,
		NotificationsDeliveredTotal,
		SweepDuration,
		BatchDuration,
		ReadySessions,
		AvailableServers,
		WaitingPlayers,
		InflightRequests,
	)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
