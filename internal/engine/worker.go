package engine

import (
	"context"
	"sync"
)

// WorkerPool bounds the number of goroutines building task contexts
// concurrently. Size 1 degrades to sequential processing.
type WorkerPool struct {
	size int
}

// NewWorkerPool creates a pool of the given size. Sizes below one are
// raised to one.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{size: size}
}

// Size returns the pool's concurrency bound.
func (p *WorkerPool) Size() int {
	return p.size
}

// Run invokes fn for every index in [0, count) on at most Size
// goroutines and waits for all of them. fn observes cancellation
// through ctx; indices not yet started when ctx is cancelled are
// still invoked, so fn must check ctx itself when aborting matters.
func (p *WorkerPool) Run(ctx context.Context, count int, fn func(ctx context.Context, index int)) {
	if count <= 0 {
		return
	}

	if p.size == 1 {
		for i := 0; i < count; i++ {
			fn(ctx, i)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.size)

	for i := 0; i < count; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, index)
		}(i)
	}

	wg.Wait()
}
