package provider

import "time"

// slidingWindow 统计最近一段时间内放行的请求数。非并发安全，由所属 adapter 加锁。
type slidingWindow struct {
	span   time.Duration
	limit  int
	stamps []time.Time
}

func newSlidingWindow(span time.Duration, limit int) *slidingWindow {
	return &slidingWindow{span: span, limit: limit}
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// admit 窗口未满时记录本次并返回 true。
func (w *slidingWindow) admit(now time.Time) bool {
	w.prune(now)
	if w.limit > 0 && len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}
