// Package pipestats exposes Prometheus counters for the delivery pipeline.
//
// A nil *Stats is valid and counts nothing, so callers don't need to guard
// every increment.
package pipestats

import "github.com/prometheus/client_golang/prometheus"

type Stats struct {
	delivered        *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	buffered         prometheus.Counter
	evicted          prometheus.Counter
	replayed         prometheus.Counter
	dropped          prometheus.Counter
	flushPasses      prometheus.Counter
}

// New creates pipeline counters and registers them on reg. A nil reg leaves
// the counters unregistered, which is useful when the host application does
// not scrape metrics.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_records_delivered_total",
			Help: "Records successfully delivered, by kind and adapter.",
		}, []string{"kind", "adapter"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_delivery_failures_total",
			Help: "Failed delivery attempts, by kind and adapter.",
		}, []string{"kind", "adapter"}),
		buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_records_buffered_total",
			Help: "Records enqueued into the offline buffer.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_buffer_evictions_total",
			Help: "Buffered records evicted to enforce capacity.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_records_replayed_total",
			Help: "Buffered records replayed successfully.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_records_dropped_total",
			Help: "Buffered records dropped after exhausting retries.",
		}),
		flushPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_buffer_flush_passes_total",
			Help: "Buffer flush passes that actually ran.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			s.delivered,
			s.deliveryFailures,
			s.buffered,
			s.evicted,
			s.replayed,
			s.dropped,
			s.flushPasses,
		)
	}
	return s
}

func (s *Stats) Delivered(kind, adapter string) {
	if s == nil {
		return
	}
	s.delivered.WithLabelValues(kind, adapter).Inc()
}

func (s *Stats) DeliveryFailure(kind, adapter string) {
	if s == nil {
		return
	}
	s.deliveryFailures.WithLabelValues(kind, adapter).Inc()
}

func (s *Stats) Buffered() {
	if s == nil {
		return
	}
	s.buffered.Inc()
}

func (s *Stats) Evicted(n int) {
	if s == nil {
		return
	}
	s.evicted.Add(float64(n))
}

func (s *Stats) Replayed() {
	if s == nil {
		return
	}
	s.replayed.Inc()
}

func (s *Stats) Dropped() {
	if s == nil {
		return
	}
	s.dropped.Inc()
}

func (s *Stats) FlushPass() {
	if s == nil {
		return
	}
	s.flushPasses.Inc()
}
