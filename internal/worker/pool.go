package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
)

var ErrPoolStopped = errors.New("worker pool is not running")

// Job is one due reminder handed over by a scheduler. DeliveryID tells apart
// the fires of one task in the logs.
type Job struct {
	TaskID     uint
	DeliveryID string
	FireAt     time.Time
	ClaimedAt  time.Time
}

func NewJob(taskID uint, fireAt, claimedAt time.Time) Job {
	job := Job{TaskID: taskID, FireAt: fireAt, ClaimedAt: claimedAt}
	if u, err := uuid.NewV4(); err == nil {
		job.DeliveryID = u.String()
	}
	return job
}

type Handler func(ctx context.Context, job Job) error

type Pool struct {
	workers int
	timeout time.Duration
	handler Handler

	jobCh  chan Job
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.RWMutex

	jobsProcessed atomic.Int64
	errors        atomic.Int64
	panics        atomic.Int64
	totalDuration atomic.Int64
}

func NewPool(workers int, timeout time.Duration, handler Handler) *Pool {
	if workers <= 0 {
		workers = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: workers,
		timeout: timeout,
		handler: handler,
		jobCh:   make(chan Job, workers*2),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Printf("🏃 Delivery pool started with %d workers", p.workers)
}

// Stop refuses new jobs, lets queued ones finish and waits for the workers.
func (p *Pool) Stop() {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if !running {
		return
	}

	select {
	case <-p.quit:
	default:
		close(p.quit)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false

	close(p.jobCh)
	p.wg.Wait()
	p.cancel()

	log.Printf("🛑 Delivery pool stopped")
}

// Submit blocks until the job is queued, ctx is done or the pool stops.
// Due reminders are never dropped because the queue is momentarily full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolStopped
	}

	select {
	case p.jobCh <- job:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobCh {
		p.process(job)
	}

	log.Printf("🔧 Delivery worker %d stopping", id)
}

func (p *Pool) process(job Job) {
	start := time.Now()

	err := p.run(job)

	p.jobsProcessed.Add(1)
	p.totalDuration.Add(int64(time.Since(start)))
	if err != nil {
		p.errors.Add(1)
		log.Printf("❌ Reminder %s for task %d failed: %v", job.DeliveryID, job.TaskID, err)
	}
}

func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Printf("panic recovered in delivery worker: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if p.handler == nil {
		return errors.New("no handler registered")
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	return p.handler(ctx, job)
}

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) GetStats() map[string]interface{} {
	processed := p.jobsProcessed.Load()
	avgDuration := time.Duration(0)
	if processed > 0 {
		avgDuration = time.Duration(p.totalDuration.Load() / processed)
	}

	return map[string]interface{}{
		"workers":        p.workers,
		"running":        p.IsRunning(),
		"jobs_processed": processed,
		"total_errors":   p.errors.Load(),
		"panics":         p.panics.Load(),
		"avg_duration":   avgDuration.String(),
		"queue_length":   len(p.jobCh),
		"queue_capacity": cap(p.jobCh),
	}
}
