package committer

import (
	"sync"
	"time"
)

var _ Committer = (*PeriodicCommitter)(nil)

type PeriodicCommitterConfig struct {
	MaxInterval time.Duration
	MaxCount    int
	Now         func() time.Time
}

type PeriodicCommitterOption func(*PeriodicCommitterConfig)

func WithMaxInterval(d time.Duration) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		cfg.MaxInterval = d
	}
}

func WithMaxCount(c int) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		cfg.MaxCount = c
	}
}

func WithClock(now func() time.Time) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		if now != nil {
			cfg.Now = now
		}
	}
}

// PeriodicCommitter asks for a commit once MaxInterval elapsed or MaxCount records were
// processed since the last successful commit
type PeriodicCommitter struct {
	c          PeriodicCommitterConfig
	count      int
	lastCommit time.Time

	mu sync.Mutex
}

func NewPeriodicCommitter(opts ...PeriodicCommitterOption) *PeriodicCommitter {
	cfg := PeriodicCommitterConfig{
		MaxInterval: 5 * time.Second,
		MaxCount:    100,
		Now:         time.Now,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &PeriodicCommitter{
		c:          cfg,
		lastCommit: cfg.Now(),
	}
}

func (p *PeriodicCommitter) RecordProcessed(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count += count
}

// Pending is the number of records processed since the last successful commit
func (p *PeriodicCommitter) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}

func (p *PeriodicCommitter) TryCommit() bool {
	p.mu.Lock()

	should := p.count >= p.c.MaxCount || p.c.Now().Sub(p.lastCommit) >= p.c.MaxInterval
	if !should {
		p.mu.Unlock()
		return false
	}

	return true
}

func (p *PeriodicCommitter) UnlockCommit(ok bool) {
	defer p.mu.Unlock()

	if ok {
		p.count = 0
		p.lastCommit = p.c.Now()
	}
}
