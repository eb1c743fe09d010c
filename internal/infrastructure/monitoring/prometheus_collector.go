package monitoring

import (
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ services.MetricsObserver = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	// Counters
	framesCapturedTotal   prometheus.Counter
	framesEncodedTotal    prometheus.Counter
	packetsPublishedTotal prometheus.Counter
	bytesPublishedTotal   prometheus.Counter
	timestampRepairsTotal prometheus.Counter
	framesDroppedTotal    *prometheus.CounterVec
	reconnectsTotal       *prometheus.CounterVec

	// Histograms
	captureDuration prometheus.Histogram
	encodeDuration  prometheus.Histogram
	sendDuration    prometheus.Histogram

	// Gauges
	queueDepth      prometheus.Gauge
	connectionState *prometheus.GaugeVec
}

// NewPrometheusCollector registers the pipeline metrics on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		framesCapturedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidrelay_frames_captured_total",
			Help: "Total number of frames read from the source",
		}),

		framesEncodedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidrelay_frames_encoded_total",
			Help: "Total number of frames accepted by the encoder",
		}),

		packetsPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidrelay_packets_published_total",
			Help: "Total number of packets delivered to the sink",
		}),

		bytesPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidrelay_published_bytes_total",
			Help: "Total amount of encoded data delivered in bytes",
		}),

		timestampRepairsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidrelay_timestamp_repairs_total",
			Help: "Packets whose timestamp was forced forward to stay monotonic",
		}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidrelay_frames_dropped_total",
			Help: "Frames or packets lost, by reason",
		}, []string{"reason"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidrelay_reconnects_total",
			Help: "Reconnect cycles started, by stage",
		}, []string{"stage"}),

		captureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidrelay_capture_duration_seconds",
			Help:    "Time spent waiting for each captured frame",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		encodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidrelay_encode_duration_seconds",
			Help:    "Time spent encoding each frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),

		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidrelay_send_duration_seconds",
			Help:    "Time spent writing each packet to the sink",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidrelay_frame_queue_depth",
			Help: "Frames waiting between the capture and encode tasks",
		}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vidrelay_connection_state",
			Help: "1 for the current connection state of each stage, 0 otherwise",
		}, []string{"stage", "state"}),
	}
}

func (p *PrometheusCollector) FrameCaptured(captureTime time.Duration) {
	p.framesCapturedTotal.Inc()
	p.captureDuration.Observe(captureTime.Seconds())
}

func (p *PrometheusCollector) FrameDropped(reason string) {
	p.framesDroppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) FrameEncoded(encodeTime time.Duration, packets int) {
	p.framesEncodedTotal.Inc()
	p.encodeDuration.Observe(encodeTime.Seconds())
}

func (p *PrometheusCollector) PacketPublished(bytes int, sendTime time.Duration) {
	p.packetsPublishedTotal.Inc()
	p.bytesPublishedTotal.Add(float64(bytes))
	p.sendDuration.Observe(sendTime.Seconds())
}

func (p *PrometheusCollector) TimestampRepaired() {
	p.timestampRepairsTotal.Inc()
}

func (p *PrometheusCollector) ReconnectStarted(stage string) {
	p.reconnectsTotal.WithLabelValues(stage).Inc()
}

var allStates = []domain.ConnectionState{
	domain.StateUninitialized,
	domain.StateConnected,
	domain.StateDegraded,
	domain.StateReconnecting,
	domain.StateStopped,
}

func (p *PrometheusCollector) StateChanged(stage string, state domain.ConnectionState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.connectionState.WithLabelValues(stage, s.String()).Set(v)
	}
}

func (p *PrometheusCollector) QueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}
