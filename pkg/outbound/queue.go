package outbound

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
)

// QueueConfig tunes one service's queue (spec.md §4.4).
type QueueConfig struct {
	// MaxConcurrent bounds in-flight requests for this service.
	MaxConcurrent int

	// MinInterRequestDelay is the pacing floor between dispatches;
	// grows exponentially on consecutive failures up to MaxInterRequestDelay.
	MinInterRequestDelay time.Duration
	MaxInterRequestDelay time.Duration

	// BurstLimit/BurstWindow bound requests per window (rate.Limiter).
	BurstLimit  int
	BurstWindow time.Duration

	// QueueTimeout bounds how long a request may wait to be dequeued.
	QueueTimeout time.Duration

	// MaxQueueDepth bounds pending entries; 0 means unbounded.
	MaxQueueDepth int
}

func (c *QueueConfig) setDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MinInterRequestDelay <= 0 {
		c.MinInterRequestDelay = time.Second
	}
	if c.MaxInterRequestDelay <= 0 {
		c.MaxInterRequestDelay = 30 * time.Second
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = 5
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = time.Second
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 30 * time.Second
	}
}

// job is one queued request, ordered by priority then FIFO arrival.
type job struct {
	priority int
	seq      int64
	ready    chan struct{}
	done     chan struct{}
	err      error
}

// priorityQueue implements container/heap.Interface: higher priority
// dequeues first; ties break FIFO via seq (spec.md §4.4).
type priorityQueue []*job

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)         { *q = append(*q, x.(*job)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Queue serializes and paces outbound calls for one logical service.
type Queue struct {
	cfg QueueConfig

	mu       sync.Mutex
	pq       priorityQueue
	nextSeq  int64
	inFlight int

	limiter *rate.Limiter

	lastDispatch    time.Time
	currentDelay    time.Duration
	consecutiveFail int

	dispatchCh chan struct{}
}

// NewQueue builds a Queue for one service.
func NewQueue(cfg QueueConfig) *Queue {
	cfg.setDefaults()
	q := &Queue{
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Every(cfg.BurstWindow/time.Duration(cfg.BurstLimit)), cfg.BurstLimit),
		currentDelay: cfg.MinInterRequestDelay,
		dispatchCh:   make(chan struct{}, 1),
	}
	return q
}

// Acquire blocks until it is this caller's turn to dispatch, honoring
// priority ordering, the concurrency cap, inter-request pacing, and
// the burst window. Returns a release func to call when the call
// completes, or a QueueTimeout/QueueOverflow error.
func (q *Queue) Acquire(ctx context.Context, priority int) (release func(success bool), err error) {
	q.mu.Lock()
	if q.cfg.MaxQueueDepth > 0 && len(q.pq) >= q.cfg.MaxQueueDepth {
		q.mu.Unlock()
		return nil, taskerrors.NewQueueOverflowError("", len(q.pq), q.cfg.MaxQueueDepth)
	}
	j := &job{priority: priority, seq: q.nextSeq, ready: make(chan struct{}), done: make(chan struct{})}
	q.nextSeq++
	heap.Push(&q.pq, j)
	q.mu.Unlock()

	go q.pump()

	timeout := q.cfg.QueueTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-j.ready:
	case <-timer.C:
		q.removeJob(j)
		return nil, taskerrors.NewQueueTimeoutError("", timeout)
	case <-ctx.Done():
		q.removeJob(j)
		return nil, ctx.Err()
	}

	if err := q.limiter.Wait(ctx); err != nil {
		q.release()
		return nil, err
	}

	q.waitPacing(ctx)

	released := false
	release = func(success bool) {
		if released {
			return
		}
		released = true
		q.onComplete(success)
	}
	return release, nil
}

func (q *Queue) removeJob(target *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.pq {
		if j == target {
			heap.Remove(&q.pq, i)
			return
		}
	}
}

// pump dequeues the next job once a concurrency slot is free.
func (q *Queue) pump() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight >= q.cfg.MaxConcurrent || len(q.pq) == 0 {
		return
	}
	j := heap.Pop(&q.pq).(*job)
	q.inFlight++
	close(j.ready)
}

func (q *Queue) waitPacing(ctx context.Context) {
	q.mu.Lock()
	wait := q.currentDelay - time.Since(q.lastDispatch)
	q.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}

	q.mu.Lock()
	q.lastDispatch = time.Now()
	q.mu.Unlock()
}

func (q *Queue) onComplete(success bool) {
	q.mu.Lock()
	q.inFlight--
	if success {
		q.consecutiveFail = 0
		q.currentDelay = q.cfg.MinInterRequestDelay
	} else {
		q.consecutiveFail++
		q.currentDelay *= 2
		if q.currentDelay > q.cfg.MaxInterRequestDelay {
			q.currentDelay = q.cfg.MaxInterRequestDelay
		}
	}
	q.mu.Unlock()
	q.pump()
}

func (q *Queue) release() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
	q.pump()
}
