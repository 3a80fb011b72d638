package service

import (
	"context"
	"sync"
	"time"
)

const (
	// cooldown between two generation jobs
	DefaultCooldown = 5 * time.Second
	// upper bound for one job: retrieval plus generation plus the store write
	DefaultJobTimeout = DefaultRetrievalTimeout + DefaultGenerationTimeout + 30*time.Second
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
)

// JobFunc generates and stores a solution for the item with the given key.
type JobFunc func(ctx context.Context, key string) error

// QueueObserver receives queue activity, typically to feed metrics.
type QueueObserver interface {
	Depth(n int)
	Enqueued()
	Deduplicated()
	JobDone(outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Depth(int)                     {}
func (nopObserver) Enqueued()                     {}
func (nopObserver) Deduplicated()                 {}
func (nopObserver) JobDone(string, time.Duration) {}

type QueueOptions struct {
	Cooldown   time.Duration
	JobTimeout time.Duration
	Observer   QueueObserver
}

// GenerationQueue runs generation jobs one at a time in enqueue order. A key is
// held at most once in the pending list; the worker goroutine is started on the
// first enqueue and exits once the list is drained.
type GenerationQueue struct {
	job      JobFunc
	logger   Logger
	cooldown time.Duration
	timeout  time.Duration
	observer QueueObserver

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	running bool
	idle    chan struct{} // closed when the current worker exits

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGenerationQueue(ctx context.Context, job JobFunc, logger Logger, opts QueueOptions) *GenerationQueue {
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &GenerationQueue{
		job:      job,
		logger:   logger,
		cooldown: opts.Cooldown,
		timeout:  opts.JobTimeout,
		observer: opts.Observer,
		queued:   make(map[string]struct{}),
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue adds key to the pending list. It returns false when key is already
// pending or the queue is stopped.
func (q *GenerationQueue) Enqueue(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return false
	}
	if _, ok := q.queued[key]; ok {
		q.observer.Deduplicated()
		q.logger.Debugf("Item %s already queued for generation", key)
		return false
	}
	q.queued[key] = struct{}{}
	q.pending = append(q.pending, key)
	q.observer.Enqueued()
	q.observer.Depth(len(q.pending))
	q.logger.Infof("Queued %s for generation (%d pending)", key, len(q.pending))

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		q.wg.Add(1)
		go q.worker(q.idle)
	}
	return true
}

// Pending returns the queued keys in execution order.
func (q *GenerationQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string{}, q.pending...)
}

func (q *GenerationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running reports whether a worker is active, including during cooldown.
func (q *GenerationQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Wait blocks until the worker has drained the queue and exited.
func (q *GenerationQueue) Wait() {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	<-idle
}

// Stop cancels in-flight jobs and cooldowns and waits for the worker to exit.
// Keys still pending are dropped.
func (q *GenerationQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *GenerationQueue) worker(idle chan struct{}) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.running = false
			close(idle)
			q.mu.Unlock()
			return
		}
		key := q.pending[0]
		q.pending = q.pending[1:]
		delete(q.queued, key)
		q.observer.Depth(len(q.pending))
		q.mu.Unlock()

		q.run(key)

		timer := time.NewTimer(q.cooldown)
		select {
		case <-q.ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *GenerationQueue) run(key string) {
	start := time.Now()
	outcome := OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			q.logger.Errorf("Generation job for %s panicked: %v", key, r)
		}
		q.observer.JobDone(outcome, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	if err := q.job(ctx, key); err != nil {
		outcome = OutcomeFailure
		q.logger.Errorf("Generation job for %s failed: %v", key, err)
		return
	}
	q.logger.Debugf("Generation job for %s finished in %s", key, time.Since(start).Round(time.Millisecond))
}
