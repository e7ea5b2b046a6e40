// Package metrics provides Prometheus instrumentation for the matchmaking
// coordinator. It exposes gauges for queue and room counts, counters for
// match outcomes and verification attempts, and a histogram for search
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchQueueSize tracks the current number of users in the matching queue.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studybuddy_match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// OpenRooms tracks the current number of rooms awaiting verification.
	OpenRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studybuddy_open_rooms",
		Help: "Current number of rooms without a finalized session",
	})

	// ActiveSessions tracks the current number of finalized, unended sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studybuddy_active_sessions",
		Help: "Current number of active study sessions",
	})

	// MatchesTotal counts completed search attempts, labeled by outcome:
	// "matched", "adopted", "timeout", or "cancelled".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studybuddy_matches_total",
		Help: "Total number of completed match searches",
	}, []string{"outcome"})

	// VerificationAttempts counts verify-code submissions, labeled by
	// result: "ok", "mismatch", or "promoted".
	VerificationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studybuddy_verification_attempts_total",
		Help: "Total number of verification code submissions",
	}, []string{"result"})

	// MessagesTotal counts chat messages processed, labeled by type:
	// "sent" or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studybuddy_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// MatchDuration records the time from entering the queue to a room
	// being formed or the search giving up.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studybuddy_match_duration_seconds",
		Help:    "Time from queue entry to match result",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 30},
	})
)

func init() {
	prometheus.MustRegister(
		MatchQueueSize,
		OpenRooms,
		ActiveSessions,
		MatchesTotal,
		VerificationAttempts,
		MessagesTotal,
		MatchDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
