// Package scheduler keeps one pending reminder per task and hands due
// reminders to a delivery pool.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/alt-f6/znaniya-boost-bot/internal/monitoring"
	"github.com/alt-f6/znaniya-boost-bot/internal/worker"
)

type FireFunc = worker.Handler

type Scheduler interface {
	// Schedule registers or replaces the reminder for taskID. It reports false
	// and stores nothing when at is not strictly in the future.
	Schedule(ctx context.Context, taskID uint, at time.Time) (bool, error)
	// Cancel removes the reminder for taskID; unknown ids are a no-op.
	Cancel(ctx context.Context, taskID uint) error
	// Pending returns the fire time registered for taskID, if any.
	Pending(ctx context.Context, taskID uint) (time.Time, bool, error)
	Len(ctx context.Context) (int, error)
	Start(ctx context.Context, fire FireFunc) error
	Stop()
}

type Options struct {
	PollInterval    time.Duration
	MisfireGrace    time.Duration
	Workers         int
	DeliveryTimeout time.Duration
	BatchSize       int
}

func DefaultOptions() Options {
	return Options{
		PollInterval:    time.Second,
		MisfireGrace:    60 * time.Second,
		Workers:         4,
		DeliveryTimeout: 10 * time.Second,
		BatchSize:       100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MisfireGrace < 0 {
		o.MisfireGrace = d.MisfireGrace
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = d.DeliveryTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	return o
}

// misfired reports whether a reminder due at fireAt is too late to deliver at now.
// A zero grace disables the check.
func misfired(fireAt, now time.Time, grace time.Duration) bool {
	return grace > 0 && now.Sub(fireAt) > grace
}

func recordMisfire(job worker.Job) {
	monitoring.RecordReminderMisfired()
	log.Printf("⌛ Reminder %s for task %d missed its time %s by %v, skipping",
		job.DeliveryID, job.TaskID, job.FireAt.Format(time.RFC3339), job.ClaimedAt.Sub(job.FireAt).Round(time.Second))
}
