// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages    *prometheus.CounterVec // by platform
	IRCReconnects   prometheus.Counter
	IRCAuthFailures prometheus.Counter
	PollCycles      prometheus.Counter
	PollErrors      *prometheus.CounterVec // by class: ended|quota|transient
	WatcherChecks   prometheus.Counter
	FirstSightings  prometheus.Counter

	// Histograms (seconds)
	PollDuration            prometheus.Observer
	PresenceRefreshDuration prometheus.Observer

	// Gauges
	DispatchDepthGauge prometheus.Gauge
	ParticipantsGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_messages_ingested_total", Help: "Chat messages ingested, by platform"}, []string{"platform"})
		IRCReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_irc_reconnects_total", Help: "IRC reconnection attempts scheduled"})
		IRCAuthFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_irc_auth_failures_total", Help: "Terminal IRC authentication failures"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_poll_cycles_total", Help: "Successful live chat poll requests"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_poll_errors_total", Help: "Failed live chat poll requests, by class"}, []string{"class"})
		WatcherChecks = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_watcher_checks_total", Help: "Stream watcher discovery attempts"})
		FirstSightings = promauto.NewCounter(prometheus.CounterOpts{Name: "presence_first_sightings_total", Help: "Identities observed for the first time this process"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_poll_duration_seconds", Help: "Live chat poll request duration seconds", Buckets: prometheus.DefBuckets})
		PresenceRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "presence_refresh_duration_seconds", Help: "Presence refresh duration seconds", Buckets: prometheus.DefBuckets})
		DispatchDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "dispatch_queue_depth", Help: "Events currently queued for the consumer"})
		ParticipantsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "presence_participants", Help: "Participants currently in the session registry"})
	})
}

// IncChatMessage counts one ingested message for a platform.
func IncChatMessage(platform string) {
	if ChatMessages != nil {
		ChatMessages.WithLabelValues(platform).Inc()
	}
}

// IncIRCReconnect counts one scheduled IRC reconnection attempt.
func IncIRCReconnect() {
	if IRCReconnects != nil {
		IRCReconnects.Inc()
	}
}

// IncIRCAuthFailure counts one terminal IRC authentication failure.
func IncIRCAuthFailure() {
	if IRCAuthFailures != nil {
		IRCAuthFailures.Inc()
	}
}

// IncPollCycle counts one successful live chat poll.
func IncPollCycle() {
	if PollCycles != nil {
		PollCycles.Inc()
	}
}

// IncPollError counts one failed poll by classification.
func IncPollError(class string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(class).Inc()
	}
}

// IncWatcherCheck counts one stream watcher discovery attempt.
func IncWatcherCheck() {
	if WatcherChecks != nil {
		WatcherChecks.Inc()
	}
}

// IncFirstSighting counts one first-time identity observation.
func IncFirstSighting() {
	if FirstSightings != nil {
		FirstSightings.Inc()
	}
}

// SetDispatchDepth records the current dispatcher queue depth.
func SetDispatchDepth(n int) {
	if DispatchDepthGauge != nil {
		DispatchDepthGauge.Set(float64(n))
	}
}

// SetParticipants records the current session registry size.
func SetParticipants(n int) {
	if ParticipantsGauge != nil {
		ParticipantsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
