package scheduler

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/worker"
)

type entry struct {
	taskID uint
	at     time.Time
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].taskID < h[j].taskID
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MemoryScheduler keeps reminders in process. Used when Redis is not
// configured; pending reminders are rebuilt from the database on start.
type MemoryScheduler struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	queue   entryHeap
	byTask  map[uint]*entry
	wake    chan struct{}
	pool    *worker.Pool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewMemoryScheduler(opts Options) *MemoryScheduler {
	return &MemoryScheduler{
		opts:   opts.withDefaults(),
		now:    time.Now,
		byTask: make(map[uint]*entry),
		wake:   make(chan struct{}, 1),
	}
}

func (s *MemoryScheduler) Schedule(ctx context.Context, taskID uint, at time.Time) (bool, error) {
	s.mu.Lock()
	if !at.After(s.now()) {
		s.mu.Unlock()
		return false, nil
	}
	if e, ok := s.byTask[taskID]; ok {
		e.at = at
		heap.Fix(&s.queue, e.index)
	} else {
		e := &entry{taskID: taskID, at: at}
		heap.Push(&s.queue, e)
		s.byTask[taskID] = e
	}
	s.mu.Unlock()

	s.notify()
	return true, nil
}

func (s *MemoryScheduler) Cancel(ctx context.Context, taskID uint) error {
	s.mu.Lock()
	if e, ok := s.byTask[taskID]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.byTask, taskID)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *MemoryScheduler) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}

func (s *MemoryScheduler) Pending(ctx context.Context, taskID uint) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byTask[taskID]; ok {
		return e.at, true, nil
	}
	return time.Time{}, false, nil
}

func (s *MemoryScheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *MemoryScheduler) Start(ctx context.Context, fire FireFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.pool = worker.NewPool(s.opts.Workers, s.opts.DeliveryTimeout, fire)
	s.pool.Start()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx)

	log.Printf("⏰ In-memory scheduler started")
	return nil
}

func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Stop()

	log.Printf("⏰ In-memory scheduler stopped")
}

func (s *MemoryScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := s.takeDue()
		for _, job := range due {
			s.dispatch(ctx, job)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// takeDue pops everything due now and returns how long to sleep until the next entry.
func (s *MemoryScheduler) takeDue() ([]worker.Job, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []worker.Job
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		delete(s.byTask, e.taskID)
		due = append(due, worker.NewJob(e.taskID, e.at, now))
	}

	wait := s.opts.PollInterval
	if len(s.queue) > 0 {
		if d := s.queue[0].at.Sub(now); d < wait {
			wait = d
		}
	}
	return due, wait
}

func (s *MemoryScheduler) dispatch(ctx context.Context, job worker.Job) {
	if misfired(job.FireAt, job.ClaimedAt, s.opts.MisfireGrace) {
		recordMisfire(job)
		return
	}
	if err := s.pool.Submit(ctx, job); err != nil {
		log.Printf("⚠️ Could not queue reminder for task %d: %v", job.TaskID, err)
	}
}
