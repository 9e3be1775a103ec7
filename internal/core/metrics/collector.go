package metrics

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Collector 基于 Prometheus 的 Recorder 实现
type Collector struct {
	transfer *TransferCounter

	batches  *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	rtt      prometheus.Histogram
	keys     *prometheus.CounterVec
	keyTime  prometheus.Histogram
	bytes    *prometheus.CounterVec
	served   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector 创建并注册指标
func NewCollector(reg prometheus.Registerer, namespace string, clk clock.Clock) (*Collector, error) {
	c := &Collector{
		transfer: NewTransferCounter(clk),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "batches_sent_total",
			Help: "Batched requests sent to publishers.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "batches_timed_out_total",
			Help: "Batched requests cancelled after the adaptive timeout.",
		}, []string{"kind"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "round_trip_seconds",
			Help:    "Observed publisher round trip times.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "keys_total",
			Help: "Finished key requests by outcome.",
		}, []string{"outcome"}),
		keyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "key_duration_seconds",
			Help:    "Time from request to completion of a key.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "channel_bytes_total",
			Help: "Channel data bytes transferred.",
		}, []string{"direction"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "publisher", Name: "requests_served_total",
			Help: "Requests answered by the publisher.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "publisher", Name: "requests_rejected_total",
			Help: "Requests rejected by the publisher.",
		}, []string{"reason"}),
	}

	for _, col := range []prometheus.Collector{
		c.batches, c.timeouts, c.rtt, c.keys, c.keyTime, c.bytes, c.served, c.rejected,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return c, nil
}

// Transfer 返回底层的传输计数器
func (c *Collector) Transfer() *TransferCounter { return c.transfer }

// BatchSent 实现 Recorder
func (c *Collector) BatchSent(kind BatchKind, _ int) {
	c.batches.WithLabelValues(string(kind)).Inc()
}

// BatchTimedOut 实现 Recorder
func (c *Collector) BatchTimedOut(kind BatchKind) {
	c.timeouts.WithLabelValues(string(kind)).Inc()
}

// ObserveRTT 实现 Recorder
func (c *Collector) ObserveRTT(_ types.PeerID, rtt time.Duration) {
	c.rtt.Observe(rtt.Seconds())
}

// KeyFinished 实现 Recorder
func (c *Collector) KeyFinished(_ types.ChannelID, ok bool, elapsed time.Duration) {
	outcome := "failed"
	if ok {
		outcome = "completed"
		c.keyTime.Observe(elapsed.Seconds())
	}
	c.keys.WithLabelValues(outcome).Inc()
}

// Downloaded 实现 Recorder
func (c *Collector) Downloaded(p types.PeerID, ch types.ChannelID, n int) {
	c.transfer.LogDownloaded(p, ch, n)
	c.bytes.WithLabelValues("in").Add(float64(n))
}

// Uploaded 实现 Recorder
func (c *Collector) Uploaded(p types.PeerID, ch types.ChannelID, n int) {
	c.transfer.LogUploaded(p, ch, n)
	c.bytes.WithLabelValues("out").Add(float64(n))
}

// RequestServed 实现 Recorder
func (c *Collector) RequestServed(kind string) {
	c.served.WithLabelValues(kind).Inc()
}

// RequestRejected 实现 Recorder
func (c *Collector) RequestRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}
