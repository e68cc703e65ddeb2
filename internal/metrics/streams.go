package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const labelStream = "stream"

// StreamMetrics tracks stream engine metrics. All methods are safe on a
// nil receiver so instrumentation stays optional in tests.
type StreamMetrics struct {
	appendsTotal      *prometheus.CounterVec
	appendBytesTotal  *prometheus.CounterVec
	appendDuration    *prometheus.HistogramVec
	eventsReadTotal   *prometheus.CounterVec
	streamsDeleted    *prometheus.CounterVec
	streamsExpired    *prometheus.CounterVec
	subscribersActive *prometheus.GaugeVec
}

// NewStreamMetrics registers the stream metric set with the collector.
func NewStreamMetrics(collector *Collector) *StreamMetrics {
	return &StreamMetrics{
		appendsTotal: collector.RegisterCounter(
			"tailstream_appends_total",
			"Total events durably appended",
			[]string{labelStream},
		),
		appendBytesTotal: collector.RegisterCounter(
			"tailstream_append_bytes_total",
			"Total encoded event bytes appended",
			[]string{labelStream},
		),
		appendDuration: collector.RegisterHistogram(
			"tailstream_append_duration_seconds",
			"Duration of append operations in seconds",
			[]string{labelStream},
			nil,
		),
		eventsReadTotal: collector.RegisterCounter(
			"tailstream_events_read_total",
			"Total events returned by cursor reads",
			[]string{labelStream},
		),
		streamsDeleted: collector.RegisterCounter(
			"tailstream_streams_deleted_total",
			"Streams removed by explicit delete or TTL sweep",
			[]string{labelStream},
		),
		streamsExpired: collector.RegisterCounter(
			"tailstream_streams_expired_total",
			"Streams purged by the TTL sweep",
			[]string{labelStream},
		),
		subscribersActive: collector.RegisterGauge(
			"tailstream_subscribers_active",
			"Currently connected live subscribers",
			[]string{labelStream},
		),
	}
}

// RecordAppend records one durable append.
func (m *StreamMetrics) RecordAppend(stream string, bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(stream).Inc()
	m.appendBytesTotal.WithLabelValues(stream).Add(float64(bytes))
	m.appendDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordRead records events returned by a cursor read.
func (m *StreamMetrics) RecordRead(stream string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.eventsReadTotal.WithLabelValues(stream).Add(float64(count))
}

// RecordDelete records a stream removal.
func (m *StreamMetrics) RecordDelete(stream string) {
	if m == nil {
		return
	}
	m.streamsDeleted.WithLabelValues(stream).Inc()
}

// RecordExpired records a TTL purge.
func (m *StreamMetrics) RecordExpired(stream string) {
	if m == nil {
		return
	}
	m.streamsExpired.WithLabelValues(stream).Inc()
}

// SubscriberConnected tracks a live subscriber attach.
func (m *StreamMetrics) SubscriberConnected(stream string) {
	if m == nil {
		return
	}
	m.subscribersActive.WithLabelValues(stream).Inc()
}

// SubscriberDisconnected tracks a live subscriber detach.
func (m *StreamMetrics) SubscriberDisconnected(stream string) {
	if m == nil {
		return
	}
	m.subscribersActive.WithLabelValues(stream).Dec()
}
