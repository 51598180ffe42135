// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package workerpool implements a bounded, elastic pool of goroutines
// that execute tasks off the caller's goroutine.
package workerpool

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/grailbio/e3db/log"
)

// Task is a unit of work. It is passed the pool's context.
type Task func(ctx context.Context)

// Options configures a Pool.
type Options struct {
	// MaxWorkers bounds the number of concurrently running workers.
	// Defaults to runtime.NumCPU().
	MaxWorkers int
	// QueueDepth bounds the number of tasks waiting for a worker.
	// Defaults to 10.
	QueueDepth int
	// IdleTimeout is how long a worker beyond the first waits for a
	// task before it exits. Defaults to 30 seconds.
	IdleTimeout time.Duration
}

const (
	defaultQueueDepth  = 10
	defaultIdleTimeout = 30 * time.Second
)

// Pool executes Tasks. It keeps one worker running at all times and
// starts additional workers, up to MaxWorkers, while tasks are waiting
// in its queue. Submit never blocks: when the queue is full the task is
// rejected.
//
// A simple example looks like this:
//
//	pool := workerpool.New(ctx, workerpool.Options{MaxWorkers: 4})
//	if !pool.Submit(func(ctx context.Context) { ... }) {
//		// busy
//	}
//	pool.Close()
type Pool struct {
	ctx   context.Context
	opts  Options
	queue chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers int
	idle    int
}

// New creates a Pool whose tasks run with ctx.
func New(ctx context.Context, opts Options) *Pool {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.NumCPU()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	p := &Pool{
		ctx:   ctx,
		opts:  opts,
		queue: make(chan Task, opts.QueueDepth),
	}
	p.mu.Lock()
	p.spawnLocked(true)
	p.mu.Unlock()
	return p
}

// Submit enqueues task for execution. It returns false, without
// blocking, if the queue is full or the pool is closed.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- task:
	default:
		return false
	}
	if len(p.queue) > p.idle && p.workers < p.opts.MaxWorkers {
		p.spawnLocked(false)
	}
	return true
}

// Len returns the number of tasks waiting for a worker.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Workers returns the number of running workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Close stops accepting tasks, waits for queued tasks to run, and
// waits for all workers to exit. Close may be called more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) spawnLocked(persistent bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(persistent)
}

// worker consumes and executes tasks from the queue until the queue is
// closed. Workers other than the persistent one exit after
// IdleTimeout without work.
func (p *Pool) worker(persistent bool) {
	log.Debug.Printf("workerpool: starting worker")
	defer log.Debug.Printf("workerpool: ending worker")
	defer p.wg.Done()

	var timer *time.Timer
	if !persistent {
		timer = time.NewTimer(p.opts.IdleTimeout)
		defer timer.Stop()
	}
	for {
		var idle <-chan time.Time
		if timer != nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.opts.IdleTimeout)
			idle = timer.C
		}
		p.mu.Lock()
		p.idle++
		p.mu.Unlock()
		select {
		case task, ok := <-p.queue:
			p.mu.Lock()
			p.idle--
			if !ok {
				p.workers--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			p.run(task)
		case <-idle:
			p.mu.Lock()
			p.idle--
			if len(p.queue) > 0 {
				p.mu.Unlock()
				continue
			}
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("workerpool: recovered panic: %v, stack:\n%s", r, debug.Stack())
		}
	}()
	task(p.ctx)
}
