package models

import (
	"time"
)

// ScheduleLayout is the fixed timestamp format accepted from users and shown back to them.
const ScheduleLayout = "2006-01-02 15:04"

type Task struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID        int64     `json:"user_id" gorm:"index;not null"`
	Description   string    `json:"description" gorm:"type:text;not null"`
	ScheduledTime time.Time `json:"scheduled_time" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// ScheduledLabel renders the scheduled time in loc using ScheduleLayout.
func (t Task) ScheduledLabel(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.ScheduledTime.In(loc).Format(ScheduleLayout)
}

// TruncateToMinute drops seconds and below; schedules have minute precision.
func TruncateToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
