package repositories

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/cache"
	"github.com/alt-f6/znaniya-boost-bot/internal/models"
)

const (
	tasksPattern  = "tasks:*"
	listsCacheTTL = time.Minute
)

// CachedTaskRepository serves list queries from cache. List keys carry a
// generation that every write bumps after it reaches the underlying
// repository, so a list loaded before a write is never read back after it,
// even when deleting the old keys fails. Get always hits the underlying repository.
type CachedTaskRepository struct {
	TaskRepository
	cache      cache.Cache
	generation atomic.Uint64
}

func NewCachedTaskRepository(repo TaskRepository, c cache.Cache) *CachedTaskRepository {
	r := &CachedTaskRepository{TaskRepository: repo, cache: c}
	// Seeded from the clock so a restart never reuses keys left in redis.
	r.generation.Store(uint64(time.Now().UnixNano()))
	return r
}

func allTasksKey(gen uint64) string {
	return fmt.Sprintf("tasks:%d:all", gen)
}

func userTasksKey(gen uint64, userID int64) string {
	return fmt.Sprintf("tasks:%d:user:%d", gen, userID)
}

func (r *CachedTaskRepository) ListByUser(ctx context.Context, userID int64) ([]models.Task, error) {
	return r.cachedList(userTasksKey(r.generation.Load(), userID), func() ([]models.Task, error) {
		return r.TaskRepository.ListByUser(ctx, userID)
	})
}

func (r *CachedTaskRepository) ListAll(ctx context.Context) ([]models.Task, error) {
	return r.cachedList(allTasksKey(r.generation.Load()), func() ([]models.Task, error) {
		return r.TaskRepository.ListAll(ctx)
	})
}

func (r *CachedTaskRepository) cachedList(key string, load func() ([]models.Task, error)) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.cache.Get(key, &tasks); err == nil {
		return tasks, nil
	}

	tasks, err := load()
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(key, tasks, listsCacheTTL); err != nil {
		log.Printf("⚠️  Failed to cache %s: %v", key, err)
	}
	return tasks, nil
}

func (r *CachedTaskRepository) Create(ctx context.Context, userID int64, description string, scheduledTime time.Time) (models.Task, error) {
	task, err := r.TaskRepository.Create(ctx, userID, description, scheduledTime)
	r.invalidate()
	return task, err
}

func (r *CachedTaskRepository) UpdateDescription(ctx context.Context, id uint, description string) error {
	err := r.TaskRepository.UpdateDescription(ctx, id, description)
	r.invalidate()
	return err
}

func (r *CachedTaskRepository) UpdateScheduledTime(ctx context.Context, id uint, scheduledTime time.Time) error {
	err := r.TaskRepository.UpdateScheduledTime(ctx, id, scheduledTime)
	r.invalidate()
	return err
}

func (r *CachedTaskRepository) Delete(ctx context.Context, id uint) error {
	err := r.TaskRepository.Delete(ctx, id)
	r.invalidate()
	return err
}

func (r *CachedTaskRepository) invalidate() {
	r.generation.Add(1)
	if err := r.cache.DeletePattern(tasksPattern); err != nil {
		log.Printf("⚠️  Failed to invalidate task lists: %v", err)
	}
}
