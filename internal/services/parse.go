package services

import (
	"strings"
	"time"
	"unicode"

	"github.com/alt-f6/znaniya-boost-bot/internal/models"
)

type TaskRequest struct {
	Description   string
	ScheduledTime time.Time
}

// ParseTaskRequest splits "<description> <YYYY-MM-DD> <HH:MM>": the last two
// whitespace separated tokens are the timestamp, everything before is the description.
func ParseTaskRequest(text string, loc *time.Location) (TaskRequest, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return TaskRequest{}, &ValidationError{
			Message: "expected \"<description> YYYY-MM-DD HH:MM\"",
		}
	}

	stamp := fields[len(fields)-2] + " " + fields[len(fields)-1]
	at, err := ParseSchedule(stamp, loc)
	if err != nil {
		return TaskRequest{}, err
	}

	description := trimLastFields(strings.TrimSpace(text), 2)
	if err := validateDescription(description); err != nil {
		return TaskRequest{}, err
	}

	return TaskRequest{Description: description, ScheduledTime: at}, nil
}

// ParseSchedule parses "YYYY-MM-DD HH:MM" in loc.
func ParseSchedule(text string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	at, err := time.ParseInLocation(models.ScheduleLayout, strings.Join(strings.Fields(text), " "), loc)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "scheduled_time",
			Message: "use the format YYYY-MM-DD HH:MM",
		}
	}
	return at, nil
}

// trimLastFields drops the last n whitespace separated tokens, keeping inner spacing.
func trimLastFields(s string, n int) string {
	for i := 0; i < n; i++ {
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		cut := strings.LastIndexFunc(s, unicode.IsSpace)
		if cut < 0 {
			return ""
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

func validateDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return &ValidationError{Field: "description", Message: "must not be empty"}
	}
	return nil
}
