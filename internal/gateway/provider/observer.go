package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer 每个已结束的外呼（以及本地拒绝）回调一次。
type Observer interface {
	ObserveSuccess(provider string, latency time.Duration, cost float64)
	ObserveFailure(provider string, code Code)
}

type nopObserver struct{}

func (nopObserver) ObserveSuccess(string, time.Duration, float64) {}
func (nopObserver) ObserveFailure(string, Code)                   {}

// PromObserver 把 adapter 遥测导出为 Prometheus 指标。
type PromObserver struct {
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cost     *prometheus.CounterVec
}

func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "failures_total",
			Help:      "Provider failures by error code.",
		}, []string{"provider", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Latency of successful provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"provider"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "cost_total",
			Help:      "Cumulative provider spend in quote currency.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(o.requests, o.failures, o.latency, o.cost)
	}
	return o
}

func (o *PromObserver) ObserveSuccess(provider string, latency time.Duration, cost float64) {
	o.requests.WithLabelValues(provider, "success").Inc()
	o.latency.WithLabelValues(provider).Observe(latency.Seconds())
	if cost > 0 {
		o.cost.WithLabelValues(provider).Add(cost)
	}
}

func (o *PromObserver) ObserveFailure(provider string, code Code) {
	o.requests.WithLabelValues(provider, "failure").Inc()
	o.failures.WithLabelValues(provider, string(code)).Inc()
}
