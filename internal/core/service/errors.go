package service

import (
	"errors"
	"fmt"

	"github.com/martijn/snapkeep/internal/core/repository"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindExecution
	KindNotificationDelivery
	KindRetentionCleanup
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExecution:
		return "execution_error"
	case KindNotificationDelivery:
		return "notification_delivery_error"
	case KindRetentionCleanup:
		return "retention_cleanup_error"
	}
	return "internal_error"
}

// ServiceError classifies failures for callers of the service layer.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) error {
	return &ServiceError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...any) error {
	return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflictError(format string, args ...any) error {
	return &ServiceError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first ServiceError in err's chain, or zero.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }

// translate maps repository sentinels onto service kinds. what names the
// entity for the message.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return &ServiceError{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, repository.ErrDuplicate):
		return &ServiceError{Kind: KindConflict, Message: what + " already exists", Err: err}
	case errors.Is(err, repository.ErrAlreadyRunning):
		return &ServiceError{Kind: KindConflict, Message: what + " already has a running execution", Err: err}
	case errors.Is(err, repository.ErrInUse):
		return &ServiceError{Kind: KindConflict, Message: what + " is in use", Err: err}
	}
	return err
}
