package session

import (
	"context"
	"fmt"
	"sync"

	logs "github.com/danmuck/smplog"
)

// Pump is the consumer context. Work posted from network goroutines runs
// only when the owner calls Drain, or continuously under Run.
type Pump struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func NewPump() *Pump {
	return &Pump{notify: make(chan struct{}, 1)}
}

func (p *Pump) Post(fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Drain runs the work queued so far and returns how many items ran. Work
// posted while draining waits for the next call.
func (p *Pump) Drain() int {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, fn := range batch {
		runGuarded(fn)
	}
	return len(batch)
}

// Run drains until ctx is done.
func (p *Pump) Run(ctx context.Context) error {
	for {
		p.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.notify:
		}
	}
}

func (p *Pump) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf(fmt.Errorf("%v", r), "session.Pump callback panicked")
		}
	}()
	fn()
}
