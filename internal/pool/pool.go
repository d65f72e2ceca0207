// Package pool hands out a fixed set of expensive, reusable resources
// (headless browser instances) to concurrent callers.
//
// Resources are created once and reused for the process lifetime. When every
// resource is busy, callers queue in FIFO order; Release hands the resource
// straight to the oldest waiter instead of idling it.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logx "fieldreport/pkg/logx"
)

var (
	// ErrEmpty is returned by Acquire when initialization produced no resources.
	ErrEmpty = errors.New("pool: no resources available")
	// ErrClosed is delivered to waiters still queued when the pool shuts down.
	ErrClosed = errors.New("pool: shut down")
)

// Factory creates and destroys the pooled resources.
type Factory[T any] interface {
	Create(ctx context.Context) (T, error)
	Destroy(res T) error
}

// Config controls the pool size. MaxResources <= 0 defaults to 3.
type Config struct {
	MaxResources int
}

// Stats is an observability snapshot; it has no side effects.
type Stats struct {
	Total     int `json:"total"`
	Busy      int `json:"busy"`
	Available int `json:"available"`
	Queued    int `json:"queued"`
}

type state int

const (
	stateNew state = iota
	stateInitializing
	stateReady
)

type grant[T any] struct {
	res T
	err error
}

type waiter[T any] struct {
	ch chan grant[T]
}

// Pool is safe for concurrent use. T must be comparable because the busy set
// is keyed by the resource handle (pointers and interface values qualify).
type Pool[T comparable] struct {
	cfg     Config
	factory Factory[T]
	log     logx.Logger

	mu       sync.Mutex
	state    state
	initDone chan struct{}
	all      []T
	idle     []T
	busy     map[T]struct{}
	waiters  []*waiter[T]
}

func New[T comparable](cfg Config, factory Factory[T], log logx.Logger) *Pool[T] {
	if cfg.MaxResources <= 0 {
		cfg.MaxResources = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool[T]{
		cfg:     cfg,
		factory: factory,
		log:     log,
		busy:    map[T]struct{}{},
	}
}

// Initialize creates MaxResources resources on the first call. Creation is
// best effort: failures are logged and the pool runs with whatever succeeded.
// Later calls return immediately; concurrent callers wait for the first one.
func (p *Pool[T]) Initialize(ctx context.Context) {
	p.mu.Lock()
	switch p.state {
	case stateReady:
		p.mu.Unlock()
		return
	case stateInitializing:
		done := p.initDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	p.state = stateInitializing
	done := make(chan struct{})
	p.initDone = done
	p.mu.Unlock()

	created := make([]T, 0, p.cfg.MaxResources)
	for i := 0; i < p.cfg.MaxResources; i++ {
		res, err := p.factory.Create(ctx)
		if err != nil {
			p.log.Warn("resource create failed", logx.Int("index", i), logx.Err(err))
			continue
		}
		created = append(created, res)
	}

	p.mu.Lock()
	p.all = created
	p.idle = append(p.idle[:0], created...)
	p.state = stateReady
	close(done)
	p.mu.Unlock()

	if len(created) < p.cfg.MaxResources {
		p.log.Warn("pool under-provisioned", logx.Int("created", len(created)), logx.Int("want", p.cfg.MaxResources))
	} else {
		p.log.Info("pool initialized", logx.Int("size", len(created)))
	}
}

// Acquire returns an idle resource immediately or waits in FIFO order for a
// Release. There is no built-in timeout; canceling ctx withdraws the caller
// from the queue.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.state != stateReady {
		p.mu.Unlock()
		p.Initialize(ctx)
		p.mu.Lock()
		if p.state != stateReady {
			p.mu.Unlock()
			return zero, fmt.Errorf("pool: initialize: %w", ctx.Err())
		}
	}
	if len(p.all) == 0 {
		p.mu.Unlock()
		return zero, ErrEmpty
	}
	if n := len(p.idle); n > 0 {
		res := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.busy[res] = struct{}{}
		p.mu.Unlock()
		return res, nil
	}
	w := &waiter[T]{ch: make(chan grant[T], 1)}
	p.waiters = append(p.waiters, w)
	queued := len(p.waiters)
	p.mu.Unlock()

	p.log.Debug("waiting for resource", logx.Int("queued", queued))

	select {
	case g := <-w.ch:
		return g.res, g.err
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if !removed {
			// Served concurrently with cancellation: pass the resource on.
			if g := <-w.ch; g.err == nil {
				p.Release(g.res)
			}
		}
		return zero, ctx.Err()
	}
}

// Release returns res to the pool. If a caller is queued, the resource is
// handed to the oldest waiter and stays busy.
func (p *Pool[T]) Release(res T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.busy[res]; !ok {
		// Destroyed by Shutdown while in use, or released twice.
		p.log.Debug("release of unknown resource ignored")
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters[0] = nil
		p.waiters = p.waiters[1:]
		w.ch <- grant[T]{res: res}
		return
	}
	delete(p.busy, res)
	p.idle = append(p.idle, res)
}

// WithResource acquires a resource, runs fn and always releases the resource,
// even when fn fails or panics. fn's error is returned unchanged.
func (p *Pool[T]) WithResource(ctx context.Context, fn func(ctx context.Context, res T) error) error {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(res)
	return fn(ctx, res)
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     len(p.all),
		Busy:      len(p.busy),
		Available: len(p.idle),
		Queued:    len(p.waiters),
	}
}

// Shutdown destroys every resource, idle or busy, and resets the pool to its
// uninitialized state. Destroy failures are logged, not returned.
func (p *Pool[T]) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.state == stateInitializing {
		done := p.initDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		p.mu.Lock()
	}
	all := p.all
	waiters := p.waiters
	p.all = nil
	p.idle = nil
	p.busy = map[T]struct{}{}
	p.waiters = nil
	p.state = stateNew
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- grant[T]{err: ErrClosed}
	}
	for i, res := range all {
		if err := p.factory.Destroy(res); err != nil {
			p.log.Warn("resource destroy failed", logx.Int("index", i), logx.Err(err))
		}
	}
	p.log.Info("pool shut down", logx.Int("destroyed", len(all)))
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) bool {
	for i, cur := range p.waiters {
		if cur == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}
