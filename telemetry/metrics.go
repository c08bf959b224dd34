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
	MessagesReceived  prometheus.Counter
	MalformedLines    prometheus.Counter
	PingsAnswered     prometheus.Counter
	Reconnects        prometheus.Counter
	RemindersSent     prometheus.Counter
	ChatLogDropped    prometheus.Counter
	RepliesSent       *prometheus.CounterVec // kind
	RepliesSuppressed *prometheus.CounterVec // kind
	TokenRefreshes    *prometheus.CounterVec // result

	// Histograms (seconds)
	HelixDuration    *prometheus.HistogramVec // endpoint
	DispatchDuration prometheus.Observer

	// Gauges
	ConnectedGauge   prometheus.Gauge // 1=connected,0=down
	ChannelsGauge    prometheus.Gauge
	ChatLogQueueSize prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_messages_received_total", Help: "Chat messages received"})
		MalformedLines = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_malformed_lines_total", Help: "Received lines dropped as malformed"})
		PingsAnswered = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_pings_answered_total", Help: "Keepalive probes answered with PONG"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_irc_reconnects_total", Help: "Reconnect attempts to the chat server"})
		RemindersSent = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_reminders_sent_total", Help: "Uptime reminders posted"})
		ChatLogDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "gdb_chatlog_dropped_total", Help: "Chat log rows dropped because the queue was full"})
		RepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gdb_replies_sent_total", Help: "Replies sent by kind"}, []string{"kind"})
		RepliesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gdb_replies_suppressed_total", Help: "Replies suppressed by an active cooldown"}, []string{"kind"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gdb_oauth_refreshes_total", Help: "Stored chat token refresh attempts"}, []string{"result"})
		HelixDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "gdb_helix_request_duration_seconds", Help: "Helix API request duration seconds", Buckets: prometheus.DefBuckets}, []string{"endpoint"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "gdb_dispatch_batch_duration_seconds", Help: "Time to dispatch one received batch", Buckets: prometheus.DefBuckets})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "gdb_irc_connected", Help: "Chat connection up=1 down=0"})
		ChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "gdb_channels", Help: "Channels with an active session"})
		ChatLogQueueSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "gdb_chatlog_queue_depth", Help: "Chat log rows waiting to be written"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncMessages counts one received chat message.
func IncMessages() { inc(MessagesReceived) }

// IncMalformed counts one dropped line.
func IncMalformed() { inc(MalformedLines) }

// IncPing counts one answered keepalive.
func IncPing() { inc(PingsAnswered) }

// IncReconnect counts one reconnect attempt.
func IncReconnect() { inc(Reconnects) }

// IncReminder counts one posted reminder.
func IncReminder() { inc(RemindersSent) }

// IncChatLogDropped counts one chat log row lost to back-pressure.
func IncChatLogDropped() { inc(ChatLogDropped) }

// IncReply counts a reply of the given kind.
func IncReply(kind string) {
	if RepliesSent != nil {
		RepliesSent.WithLabelValues(kind).Inc()
	}
}

// IncSuppressed counts a reply suppressed by cooldown.
func IncSuppressed(kind string) {
	if RepliesSuppressed != nil {
		RepliesSuppressed.WithLabelValues(kind).Inc()
	}
}

// IncTokenRefresh records a refresh attempt with result "ok" or "error".
func IncTokenRefresh(result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// ObserveHelix records a Helix request duration.
func ObserveHelix(endpoint string, d time.Duration) {
	if HelixDuration != nil {
		HelixDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// SetConnected sets the connection gauge to 1 if up else 0.
func SetConnected(up bool) {
	if ConnectedGauge != nil {
		if up {
			ConnectedGauge.Set(1)
		} else {
			ConnectedGauge.Set(0)
		}
	}
}

// SetChannels records the number of active sessions.
func SetChannels(n int) {
	if ChannelsGauge != nil {
		ChannelsGauge.Set(float64(n))
	}
}

// SetChatLogQueue records the chat log backlog.
func SetChatLogQueue(n int) {
	if ChatLogQueueSize != nil {
		ChatLogQueueSize.Set(float64(n))
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
