package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"
	"github.com/alt-f6/znaniya-boost-bot/internal/monitoring"
	"github.com/alt-f6/znaniya-boost-bot/internal/repositories"
	"github.com/alt-f6/znaniya-boost-bot/internal/scheduler"
	"github.com/alt-f6/znaniya-boost-bot/internal/worker"
)

const ReminderPrefix = "🔔 Reminder: "

type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// AddResult reports whether a reminder was scheduled. Scheduled is false when
// the requested time was not in the future: the task is stored, no reminder fires.
type AddResult struct {
	Task      models.Task
	Scheduled bool
}

type TaskService struct {
	repo      repositories.TaskRepository
	scheduler scheduler.Scheduler
	notifier  Notifier
	loc       *time.Location
	locks     *keyedMutex
}

func NewTaskService(repo repositories.TaskRepository, sched scheduler.Scheduler, notifier Notifier, loc *time.Location) *TaskService {
	if loc == nil {
		loc = time.Local
	}
	return &TaskService{
		repo:      repo,
		scheduler: sched,
		notifier:  notifier,
		loc:       loc,
		locks:     newKeyedMutex(),
	}
}

func (s *TaskService) Location() *time.Location {
	return s.loc
}

// AddTask parses "<description> YYYY-MM-DD HH:MM", stores the task and
// schedules its reminder when the time is still ahead.
func (s *TaskService) AddTask(ctx context.Context, userID int64, text string) (AddResult, error) {
	req, err := ParseTaskRequest(text, s.loc)
	if err != nil {
		return AddResult{}, err
	}

	task, err := s.repo.Create(ctx, userID, req.Description, req.ScheduledTime)
	if err != nil {
		return AddResult{}, fmt.Errorf("create task: %w", err)
	}

	unlock := s.locks.Lock(task.ID)
	defer unlock()

	scheduled, err := s.scheduler.Schedule(ctx, task.ID, task.ScheduledTime)
	if err != nil {
		// A stored task must not silently lose its reminder.
		if derr := s.repo.Delete(context.Background(), task.ID); derr != nil {
			log.Printf("❌ Failed to roll back task %d after scheduling error: %v", task.ID, derr)
		}
		return AddResult{}, fmt.Errorf("schedule reminder: %w", err)
	}

	if scheduled {
		monitoring.RecordReminderScheduled()
		log.Printf("📝 Task %d added for user %d, reminder at %s", task.ID, userID, task.ScheduledLabel(s.loc))
	} else {
		log.Printf("📝 Task %d added for user %d with past time %s, no reminder", task.ID, userID, task.ScheduledLabel(s.loc))
	}

	return AddResult{Task: task, Scheduled: scheduled}, nil
}

func (s *TaskService) ListTasks(ctx context.Context, userID int64) ([]models.Task, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *TaskService) ListAllTasks(ctx context.Context) ([]models.Task, error) {
	return s.repo.ListAll(ctx)
}

// GetTask returns the task if it belongs to userID.
func (s *TaskService) GetTask(ctx context.Context, userID int64, taskID uint) (models.Task, error) {
	return s.owned(ctx, userID, taskID)
}

func (s *TaskService) owned(ctx context.Context, userID int64, taskID uint) (models.Task, error) {
	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if task.UserID != userID {
		return models.Task{}, ErrTaskNotFound
	}
	return task, nil
}

// EditDescription replaces the description; the schedule stays as it is and a
// pending reminder picks up the new text when it fires.
func (s *TaskService) EditDescription(ctx context.Context, userID int64, taskID uint, text string) (models.Task, error) {
	if err := validateDescription(text); err != nil {
		return models.Task{}, err
	}

	unlock := s.locks.Lock(taskID)
	defer unlock()

	task, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return models.Task{}, err
	}

	task.Description = strings.TrimSpace(text)
	if err := s.repo.UpdateDescription(ctx, taskID, task.Description); err != nil {
		return models.Task{}, err
	}

	log.Printf("✏️ Task %d description updated by user %d", taskID, userID)
	return task, nil
}

// Reschedule moves a task to a new "YYYY-MM-DD HH:MM" time, replacing any pending reminder.
// If the move fails part way the previous time and reminder are put back.
func (s *TaskService) Reschedule(ctx context.Context, userID int64, taskID uint, stamp string) (AddResult, error) {
	at, err := ParseSchedule(stamp, s.loc)
	if err != nil {
		return AddResult{}, err
	}

	unlock := s.locks.Lock(taskID)
	defer unlock()

	task, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return AddResult{}, err
	}

	previous := task.ScheduledTime
	if err := s.cancel(ctx, taskID); err != nil {
		return AddResult{}, err
	}

	if err := s.repo.UpdateScheduledTime(ctx, taskID, at); err != nil {
		s.restoreSchedule(task, false)
		return AddResult{}, err
	}
	task.ScheduledTime = models.TruncateToMinute(at)

	scheduled, err := s.scheduler.Schedule(ctx, taskID, task.ScheduledTime)
	if err != nil {
		task.ScheduledTime = previous
		s.restoreSchedule(task, true)
		return AddResult{}, fmt.Errorf("schedule reminder: %w", err)
	}
	if scheduled {
		monitoring.RecordReminderScheduled()
	}

	log.Printf("🗓️ Task %d rescheduled to %s (reminder: %t)", taskID, task.ScheduledLabel(s.loc), scheduled)
	return AddResult{Task: task, Scheduled: scheduled}, nil
}

// restoreSchedule puts task back to its stored time after a failed reschedule.
// The caller holds the task lock. rowChanged means the new time already reached
// the repository and has to be written back first.
func (s *TaskService) restoreSchedule(task models.Task, rowChanged bool) {
	ctx := context.Background()

	if rowChanged {
		if err := s.repo.UpdateScheduledTime(ctx, task.ID, task.ScheduledTime); err != nil {
			log.Printf("❌ Failed to restore time of task %d after reschedule error: %v", task.ID, err)
			return
		}
	}

	scheduled, err := s.scheduler.Schedule(ctx, task.ID, task.ScheduledTime)
	if err != nil {
		log.Printf("❌ Failed to restore reminder for task %d: %v", task.ID, err)
		return
	}
	if scheduled {
		monitoring.RecordReminderScheduled()
	}
}

// DeleteTask cancels any pending reminder before removing the row.
func (s *TaskService) DeleteTask(ctx context.Context, userID int64, taskID uint) (models.Task, error) {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	task, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return models.Task{}, err
	}

	if err := s.cancel(ctx, taskID); err != nil {
		return models.Task{}, err
	}

	if err := s.repo.Delete(ctx, taskID); err != nil {
		return models.Task{}, err
	}

	log.Printf("🗑️ Task %d deleted by user %d", taskID, userID)
	return task, nil
}

func (s *TaskService) cancel(ctx context.Context, taskID uint) error {
	_, pending, err := s.scheduler.Pending(ctx, taskID)
	if err != nil {
		return fmt.Errorf("check reminder: %w", err)
	}
	if err := s.scheduler.Cancel(ctx, taskID); err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	if pending {
		monitoring.RecordReminderCancelled()
	}
	return nil
}

// FireReminder delivers a due reminder using the task as it is stored now.
// Deleted tasks and fires made stale by a reschedule are skipped.
func (s *TaskService) FireReminder(ctx context.Context, job worker.Job) error {
	unlock := s.locks.Lock(job.TaskID)
	defer unlock()

	monitoring.RecordReminderFired()

	task, err := s.repo.Get(ctx, job.TaskID)
	if errors.Is(err, ErrTaskNotFound) {
		monitoring.RecordReminderSkipped()
		log.Printf("⏭️ Task %d no longer exists, reminder %s skipped", job.TaskID, job.DeliveryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task %d: %w", job.TaskID, err)
	}

	if !task.ScheduledTime.Equal(job.FireAt) {
		monitoring.RecordReminderSkipped()
		log.Printf("⏭️ Task %d was rescheduled to %s, stale reminder %s skipped", task.ID, task.ScheduledLabel(s.loc), job.DeliveryID)
		return nil
	}

	if err := s.notifier.Notify(ctx, task.UserID, ReminderPrefix+task.Description); err != nil {
		monitoring.RecordReminderDeliveryFailure()
		return &DeliveryError{TaskID: task.ID, UserID: task.UserID, Err: err}
	}

	monitoring.RecordReminderDelivered()
	log.Printf("🔔 Reminder %s for task %d delivered to user %d", job.DeliveryID, task.ID, task.UserID)
	return nil
}

// RestorePending schedules every stored task whose time is still ahead.
// Safe to call repeatedly; existing entries are replaced, not duplicated.
func (s *TaskService) RestorePending(ctx context.Context) (int, error) {
	tasks, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}

	restored := 0
	for _, task := range tasks {
		unlock := s.locks.Lock(task.ID)
		scheduled, err := s.scheduler.Schedule(ctx, task.ID, task.ScheduledTime)
		unlock()
		if err != nil {
			return restored, fmt.Errorf("restore task %d: %w", task.ID, err)
		}
		if scheduled {
			restored++
		}
	}

	log.Printf("♻️ Restored %d pending reminders out of %d tasks", restored, len(tasks))
	return restored, nil
}
