package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions.",
		},
		[]string{"transport", "from", "to"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport.",
		},
		[]string{"transport", "kind", "success"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages.",
		},
		[]string{"transport", "kind"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "decode_failures_total",
			Help:      "Inbound payloads dropped because they could not be decoded.",
		},
		[]string{"transport"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts started.",
		},
		[]string{"transport"},
	)
	pendingAcks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "pending_acks",
			Help:      "Ack-requested messages awaiting acknowledgement.",
		},
		[]string{"transport"},
	)
	dispatchPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "dispatch",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked.",
		},
		[]string{"kind"},
	)
	sendWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "send_wait_seconds",
			Help:      "Time a send spent waiting for the session to become ready.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"transport", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			stateTransitions,
			messagesSent,
			messagesReceived,
			decodeFailures,
			reconnects,
			pendingAcks,
			dispatchPanics,
			sendWait,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordStateTransition(transport, from, to string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(transport, from, to).Inc()
}

func RecordSent(transport, kind string, success bool) {
	RegisterMetrics()
	messagesSent.WithLabelValues(transport, kind, strconv.FormatBool(success)).Inc()
}

func RecordReceived(transport, kind string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(transport, kind).Inc()
}

func RecordDecodeFailure(transport string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(transport).Inc()
}

func RecordReconnect(transport string) {
	RegisterMetrics()
	reconnects.WithLabelValues(transport).Inc()
}

func SetPendingAcks(transport string, n int) {
	RegisterMetrics()
	pendingAcks.WithLabelValues(transport).Set(float64(n))
}

func RecordDispatchPanic(kind string) {
	RegisterMetrics()
	dispatchPanics.WithLabelValues(kind).Inc()
}

func RecordSendWait(transport, outcome string, d time.Duration) {
	RegisterMetrics()
	sendWait.WithLabelValues(transport, outcome).Observe(d.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
