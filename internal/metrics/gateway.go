package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lpr_sessions_live",
		Help: "Current number of device sessions in the streaming state",
	})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_connect_attempts_total",
		Help: "Total device connect attempts",
	}, []string{"result"})

	SessionClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_session_closes_total",
		Help: "Total session closes by cause",
	}, []string{"cause"})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_frames_total",
		Help: "Inbound frames dispatched, by message type",
	}, []string{"type"})

	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lpr_frames_dropped_total",
		Help: "Inbound frames dropped due to session queue overflow",
	})

	ProtocolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_protocol_errors_total",
		Help: "Protocol errors by kind",
	}, []string{"kind"})

	BridgeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lpr_bridge_subscribers",
		Help: "Current number of websocket subscribers across all rooms",
	})

	BridgeDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lpr_bridge_dropped_events_total",
		Help: "Events dropped because a subscriber outbox overflowed",
	})

	IngestPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_ingest_publish_total",
		Help: "Plate events handed to the ingest sink",
	}, []string{"result"})

	TrafficWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lpr_traffic_writes_total",
		Help: "Traffic rows written by the ingest consumer",
	}, []string{"result"})
)
