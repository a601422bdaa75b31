package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"

	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskRepository is the durable mapping from task id to task row.
// Each call is atomic with respect to a single row.
type TaskRepository interface {
	Create(ctx context.Context, userID int64, description string, scheduledTime time.Time) (models.Task, error)
	Get(ctx context.Context, id uint) (models.Task, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Task, error)
	ListAll(ctx context.Context) ([]models.Task, error)
	UpdateDescription(ctx context.Context, id uint, description string) error
	UpdateScheduledTime(ctx context.Context, id uint, scheduledTime time.Time) error
	Delete(ctx context.Context, id uint) error
}

type GormTaskRepository struct {
	db *gorm.DB
}

func NewGormTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

func (r *GormTaskRepository) Create(ctx context.Context, userID int64, description string, scheduledTime time.Time) (models.Task, error) {
	task := models.Task{
		UserID:        userID,
		Description:   description,
		ScheduledTime: models.TruncateToMinute(scheduledTime),
	}
	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (r *GormTaskRepository) Get(ctx context.Context, id uint) (models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

func (r *GormTaskRepository) ListByUser(ctx context.Context, userID int64) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_time asc, id asc").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks for user %d: %w", userID, err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) ListAll(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Order("scheduled_time asc, id asc").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) UpdateDescription(ctx context.Context, id uint, description string) error {
	return r.update(ctx, id, "description", description)
}

func (r *GormTaskRepository) UpdateScheduledTime(ctx context.Context, id uint, scheduledTime time.Time) error {
	return r.update(ctx, id, "scheduled_time", models.TruncateToMinute(scheduledTime))
}

func (r *GormTaskRepository) update(ctx context.Context, id uint, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("update task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *GormTaskRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
