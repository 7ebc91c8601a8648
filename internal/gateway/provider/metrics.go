package provider

import "time"

const maxErrorLog = 100

type ErrorRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Code        Code      `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// Metrics is a point-in-time copy of an adapter's telemetry.
type Metrics struct {
	Provider            string        `json:"provider"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	AverageConfidence   float64       `json:"average_confidence"`
	Accuracy            float64       `json:"accuracy"`
	EvaluatedOutcomes   int64         `json:"evaluated_outcomes"`
	TotalCost           float64       `json:"total_cost"`
	UptimeStart         time.Time     `json:"uptime_start"`
	LastUsed            time.Time     `json:"last_used"`
	RecentErrors        []ErrorRecord `json:"recent_errors"`
	RequestsInWindow    int           `json:"requests_in_window"`
}

// CostPerSuccess 单次成功调用的平均花费，无记录时为 0。
func (m Metrics) CostPerSuccess() float64 {
	if m.SuccessfulRequests == 0 {
		return 0
	}
	return m.TotalCost / float64(m.SuccessfulRequests)
}

// tracker 保存可变计数器，调用方需持有 adapter 锁。
type tracker struct {
	provider     string
	total        int64
	success      int64
	failed       int64
	avgLatencyMs float64
	avgConf      float64
	confSamples  int64
	agreed       int64
	evaluated    int64
	cost         float64
	uptimeStart  time.Time
	lastUsed     time.Time
	errs         []ErrorRecord
}

func newTracker(provider string, now time.Time) *tracker {
	return &tracker{provider: provider, uptimeStart: now}
}

func (t *tracker) onSuccess(latency time.Duration, cost float64, now time.Time) {
	t.total++
	t.success++
	sample := float64(latency) / float64(time.Millisecond)
	t.avgLatencyMs += (sample - t.avgLatencyMs) / float64(t.success)
	t.cost += cost
	t.lastUsed = now
}

func (t *tracker) onFailure(err *Error, now time.Time) {
	t.total++
	t.failed++
	t.lastUsed = now
	rec := ErrorRecord{Timestamp: now, Code: err.Code, Recoverable: err.Recoverable}
	if err.Err != nil {
		rec.Message = err.Err.Error()
	}
	t.errs = append(t.errs, rec)
	if over := len(t.errs) - maxErrorLog; over > 0 {
		t.errs = append(t.errs[:0], t.errs[over:]...)
	}
}

func (t *tracker) onConfidence(c float64) {
	t.confSamples++
	t.avgConf += (c - t.avgConf) / float64(t.confSamples)
}

func (t *tracker) onOutcome(agreed bool) {
	t.evaluated++
	if agreed {
		t.agreed++
	}
}

func (t *tracker) snapshot() Metrics {
	m := Metrics{
		Provider:            t.provider,
		TotalRequests:       t.total,
		SuccessfulRequests:  t.success,
		FailedRequests:      t.failed,
		AverageResponseTime: time.Duration(t.avgLatencyMs * float64(time.Millisecond)),
		AverageConfidence:   t.avgConf,
		EvaluatedOutcomes:   t.evaluated,
		TotalCost:           t.cost,
		UptimeStart:         t.uptimeStart,
		LastUsed:            t.lastUsed,
		RecentErrors:        append([]ErrorRecord(nil), t.errs...),
	}
	if t.evaluated > 0 {
		m.Accuracy = float64(t.agreed) / float64(t.evaluated)
	}
	return m
}
