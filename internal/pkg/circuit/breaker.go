package circuit

import (
	"sync"
	"time"

	"quorum/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker trips after threshold consecutive failures and lets a single probe through
// once the cooldown has elapsed. A nil *Breaker allows everything.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	cooldown     time.Duration
	openedAt     time.Time
	probing      bool
	now          func() time.Time
	onTransition func(name string, from, to State)
}

// New returns nil when threshold <= 0, which disables breaking for that caller.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		return nil
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	if b != nil && now != nil {
		b.now = now
	}
	return b
}

func (b *Breaker) OnTransition(fn func(name string, from, to State)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onTransition != nil {
		go b.onTransition(b.name, from, to)
		return
	}
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d cooldown=%s)", b.name, from, to, b.failures, b.threshold, b.cooldown)
}
