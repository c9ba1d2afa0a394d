package tasks

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
)

// Task is one unit of fire-and-forget side work: a graph merge, a metrics
// push, a feed publish.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs side work off the webhook request path. The queue is bounded:
// when it is full the task is dropped with a log line instead of blocking
// a response. Each task gets its own timeout so one stuck dependency
// cannot wedge a worker forever.
type Pool struct {
	queue   chan Task
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueSize int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	p := &Pool{
		queue:   make(chan Task, queueSize),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.runOne(t)
		metrics.TaskQueueDepth.Set(float64(len(p.queue)))
	}
}

func (p *Pool) runOne(t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Task %s panicked: %v", t.Name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := t.Run(ctx); err != nil {
		log.Printf("[ERROR] Task %s: %v", t.Name, err)
	}
}

// Submit enqueues without blocking. false means the queue was full (or the
// pool closed) and the task was dropped.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- Task{Name: name, Run: fn}:
		metrics.TaskQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		log.Printf("[WARN] Task queue full, dropping %s", name)
		metrics.TasksDroppedTotal.WithLabelValues(name).Inc()
		return false
	}
}

// Close stops intake and waits for in-flight tasks to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
