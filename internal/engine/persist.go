package engine

import (
	"context"
	"sync"
	"time"

	"quorum/internal/logger"

	"github.com/jpillora/backoff"
)

const persistTimeout = 10 * time.Second

type persistJob struct {
	name string
	fn   func(context.Context) error
}

// persister 在后台串行执行持久化任务，失败按指数退避重试，最终失败交给 onFail。
type persister struct {
	jobs     chan persistJob
	attempts int
	onFail   func(task string, err error)
	minWait  time.Duration
	maxWait  time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newPersister(buffer, attempts int, onFail func(string, error)) *persister {
	p := &persister{
		jobs:     make(chan persistJob, buffer),
		attempts: attempts,
		onFail:   onFail,
		minWait:  200 * time.Millisecond,
		maxWait:  5 * time.Second,
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// submit 在队列已满时阻塞，保证决策记录不被丢弃。
func (p *persister) submit(name string, fn func(context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logger.Warnf("engine: persistence closed, drop %s", name)
		return false
	}
	p.jobs <- persistJob{name: name, fn: fn}
	return true
}

func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	<-p.done
}

func (p *persister) loop() {
	defer close(p.done)
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *persister) run(job persistJob) {
	b := &backoff.Backoff{Min: p.minWait, Max: p.maxWait, Factor: 2, Jitter: true}
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = job.fn(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt < p.attempts {
			wait := b.Duration()
			logger.Warnf("engine: %s failed (attempt %d/%d), retry in %s: %v", job.name, attempt, p.attempts, wait, err)
			time.Sleep(wait)
		}
	}
	logger.Errorf("engine: %s failed after %d attempts: %v", job.name, p.attempts, err)
	if p.onFail != nil {
		p.onFail(job.name, err)
	}
}
