package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Do once Close has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool is a process-wide bound on concurrent inference calls. Every
// request shares one pool, so a burst of uploads queues at the pool
// instead of oversubscribing the engine.
type Pool struct {
	slots chan struct{}
	quit  chan struct{}

	mu       sync.RWMutex
	inUse    int
	maxInUse int
	acquired uint64
	rejected uint64
	closed   bool
}

// PoolStats represents pool usage statistics
type PoolStats struct {
	Size     int    `json:"size"`
	InUse    int    `json:"in_use"`
	MaxInUse int    `json:"max_in_use"`
	Acquired uint64 `json:"acquired"`
	Rejected uint64 `json:"rejected"`
}

// NewPool creates a pool with the given number of slots.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	return &Pool{
		slots: make(chan struct{}, size),
		quit:  make(chan struct{}),
	}, nil
}

// Do runs fn while holding one pool slot. It blocks until a slot is
// free; fn's error is returned as-is. Calls that never get a slot,
// because the context is done or the pool is closed, count as rejected.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-p.quit:
		p.noteReject()
		return ErrPoolClosed
	case <-ctx.Done():
		p.noteReject()
		return ctx.Err()
	}

	p.noteAcquire()
	defer func() {
		<-p.slots
		p.noteRelease()
	}()

	return fn()
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// InUse returns how many slots are currently held.
func (p *Pool) InUse() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inUse
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:     cap(p.slots),
		InUse:    p.inUse,
		MaxInUse: p.maxInUse,
		Acquired: p.acquired,
		Rejected: p.rejected,
	}
}

// Close rejects new work, then waits for all in-flight work to finish
// by taking every slot. Callers blocked in Do are released with
// ErrPoolClosed rather than left waiting for slots that will never
// free up.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	for i := 0; i < cap(p.slots); i++ {
		p.slots <- struct{}{}
	}
}

func (p *Pool) noteAcquire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse++
	p.acquired++
	if p.inUse > p.maxInUse {
		p.maxInUse = p.inUse
	}
}

func (p *Pool) noteRelease() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
}

func (p *Pool) noteReject() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected++
}
