package router

import (
	"errors"
	"fmt"

	"lessonsync/pkg/interfaces"
)

// Protocol violations. Each is reported to the offending sender only, as an
// error event carrying the message text; registry state is left unchanged.
var (
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrTeacherOnly       = fmt.Errorf("%w: only teachers can perform this action", interfaces.ErrUnauthorized)
	ErrStudentOnly       = fmt.Errorf("%w: only students can perform this action", interfaces.ErrUnauthorized)
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrLessonNotActive   = errors.New("lesson not active")
	ErrNotInLesson       = errors.New("not in an active lesson")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// errorKind maps a protocol violation to a short metrics label
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrTeacherOnly), errors.Is(err, ErrStudentOnly):
		return "forbidden_role"
	case errors.Is(err, ErrLessonNotFound), errors.Is(err, ErrLessonNotActive):
		return "lesson_missing"
	case errors.Is(err, ErrNotInLesson):
		return "not_in_lesson"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	default:
		return "internal"
	}
}
