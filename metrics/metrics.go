package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesParsed - incoming IRC lines handed to the dispatcher.
	LinesParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tmi_lines_parsed_total",
		Help: "Number of IRC lines parsed and dispatched",
	})

	// EventsEmitted - events fanned out to listeners.
	EventsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tmi_events_emitted_total",
		Help: "Number of client events emitted",
	})

	// MessagesSent - outgoing PRIVMSG lines per channel.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmi_messages_sent_total",
			Help: "Number of chat messages written to the socket per channel",
		},
		[]string{"channel"},
	)

	// Reconnects - reconnect attempts scheduled by the supervisor.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tmi_reconnects_total",
		Help: "Number of reconnect attempts",
	})

	// ConnectionUp - whether the connection is currently open.
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tmi_connection_up",
		Help: "Whether the IRC connection is open (1) or not (0)",
	})

	// CommandLatency - time from command write to correlated reply.
	CommandLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tmi_command_latency_seconds",
		Help:    "Latency between sending a command and its correlated reply",
		Buckets: prometheus.DefBuckets,
	})

	// QueueWait - time an outbound item spent queued before its write.
	QueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmi_queue_wait_seconds",
			Help:    "Time spent waiting in an outbound queue before the write",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)
