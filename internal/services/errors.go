package services

import (
	"errors"
	"fmt"

	"github.com/alt-f6/znaniya-boost-bot/internal/repositories"
)

// ErrTaskNotFound is returned for unknown ids and for tasks owned by someone else.
var ErrTaskNotFound = repositories.ErrTaskNotFound

// ValidationError rejects a request before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DeliveryError wraps a failed reminder delivery. It is logged and never retried.
type DeliveryError struct {
	TaskID uint
	UserID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder for task %d to user %d: %v", e.TaskID, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}
