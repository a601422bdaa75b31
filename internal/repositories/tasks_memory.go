package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"
)

type MemoryTaskRepository struct {
	mu     sync.RWMutex
	nextID uint
	tasks  map[uint]models.Task
	now    func() time.Time
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{
		tasks: make(map[uint]models.Task),
		now:   time.Now,
	}
}

func (r *MemoryTaskRepository) Create(ctx context.Context, userID int64, description string, scheduledTime time.Time) (models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := r.now()
	task := models.Task{
		ID:            r.nextID,
		UserID:        userID,
		Description:   description,
		ScheduledTime: models.TruncateToMinute(scheduledTime),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.tasks[task.ID] = task
	return task, nil
}

func (r *MemoryTaskRepository) Get(ctx context.Context, id uint) (models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (r *MemoryTaskRepository) ListByUser(ctx context.Context, userID int64) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Task, 0)
	for _, task := range r.tasks {
		if task.UserID == userID {
			out = append(out, task)
		}
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryTaskRepository) ListAll(ctx context.Context) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, task)
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryTaskRepository) UpdateDescription(ctx context.Context, id uint, description string) error {
	return r.mutate(ctx, id, func(t *models.Task) { t.Description = description })
}

func (r *MemoryTaskRepository) UpdateScheduledTime(ctx context.Context, id uint, scheduledTime time.Time) error {
	return r.mutate(ctx, id, func(t *models.Task) { t.ScheduledTime = models.TruncateToMinute(scheduledTime) })
}

func (r *MemoryTaskRepository) mutate(ctx context.Context, id uint, fn func(*models.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	fn(&task)
	task.UpdatedAt = r.now()
	r.tasks[id] = task
	return nil
}

func (r *MemoryTaskRepository) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].ScheduledTime.Equal(tasks[j].ScheduledTime) {
			return tasks[i].ScheduledTime.Before(tasks[j].ScheduledTime)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
