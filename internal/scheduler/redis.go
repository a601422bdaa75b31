package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/worker"

	"github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "reminders:pending"

// claimDue pops up to ARGV[2] members scored at or below ARGV[1] in one step,
// so a reminder is handed out once even with several instances polling.
var claimDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
for i = 1, #due, 2 do
	redis.call('ZREM', KEYS[1], due[i])
end
return due
`)

// RedisScheduler stores pending reminders in a sorted set scored by fire time
// in unix milliseconds, so they survive restarts and are shared between instances.
type RedisScheduler struct {
	client *redis.Client
	key    string
	opts   Options
	now    func() time.Time

	pool    *worker.Pool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewRedisScheduler(client *redis.Client, key string, opts Options) *RedisScheduler {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisScheduler{
		client: client,
		key:    key,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

func member(taskID uint) string {
	return strconv.FormatUint(uint64(taskID), 10)
}

func (s *RedisScheduler) Schedule(ctx context.Context, taskID uint, at time.Time) (bool, error) {
	if !at.After(s.now()) {
		return false, nil
	}
	err := s.client.ZAdd(ctx, s.key, redis.Z{Score: float64(at.UnixMilli()), Member: member(taskID)}).Err()
	if err != nil {
		return false, fmt.Errorf("schedule reminder for task %d: %w", taskID, err)
	}
	return true, nil
}

func (s *RedisScheduler) Cancel(ctx context.Context, taskID uint) error {
	if err := s.client.ZRem(ctx, s.key, member(taskID)).Err(); err != nil {
		return fmt.Errorf("cancel reminder for task %d: %w", taskID, err)
	}
	return nil
}

func (s *RedisScheduler) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisScheduler) Pending(ctx context.Context, taskID uint) (time.Time, bool, error) {
	score, err := s.client.ZScore(ctx, s.key, member(taskID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

func (s *RedisScheduler) Start(ctx context.Context, fire FireFunc) error {
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

	log.Printf("⏰ Redis scheduler started (key: %s, poll: %v)", s.key, s.opts.PollInterval)
	return nil
}

func (s *RedisScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.cancel()
	s.wg.Wait()
	s.pool.Stop()

	log.Printf("⏰ Redis scheduler stopped")
}

func (s *RedisScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.poll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("⚠️ Reminder poll failed: %v", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// poll claims every due reminder and submits it for delivery.
func (s *RedisScheduler) poll(ctx context.Context) (int, error) {
	dispatched := 0
	for {
		now := s.now()
		res, err := claimDue.Run(ctx, s.client, []string{s.key}, now.UnixMilli(), s.opts.BatchSize).StringSlice()
		if err != nil {
			return dispatched, err
		}

		for i := 0; i+1 < len(res); i += 2 {
			id, err := strconv.ParseUint(res[i], 10, 64)
			if err != nil {
				log.Printf("⚠️ Dropping malformed reminder member %q", res[i])
				continue
			}
			score, err := strconv.ParseFloat(res[i+1], 64)
			if err != nil {
				log.Printf("⚠️ Dropping reminder for task %d with bad score %q", id, res[i+1])
				continue
			}

			job := worker.NewJob(uint(id), time.UnixMilli(int64(score)), now)
			if s.dispatch(ctx, job) {
				dispatched++
			}
		}

		if len(res)/2 < s.opts.BatchSize {
			return dispatched, nil
		}
	}
}

func (s *RedisScheduler) dispatch(ctx context.Context, job worker.Job) bool {
	if misfired(job.FireAt, job.ClaimedAt, s.opts.MisfireGrace) {
		recordMisfire(job)
		return false
	}

	if err := s.pool.Submit(ctx, job); err != nil {
		// Claimed but not delivered; put it back unless it was rescheduled meanwhile.
		log.Printf("⚠️ Could not queue reminder for task %d: %v", job.TaskID, err)
		z := redis.Z{Score: float64(job.FireAt.UnixMilli()), Member: member(job.TaskID)}
		if rerr := s.client.ZAddNX(context.Background(), s.key, z).Err(); rerr != nil {
			log.Printf("❌ Lost reminder for task %d: %v", job.TaskID, rerr)
		}
		return false
	}
	return true
}
