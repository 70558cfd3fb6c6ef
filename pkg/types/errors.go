package types

import "errors"

// Validation errors shared by every component decoding protocol frames
var (
	ErrMissingIdentityID = errors.New("identity id is required")
	ErrInvalidRole       = errors.New("role must be 'teacher' or 'student'")
	ErrMissingLessonID   = errors.New("lessonId is required")
	ErrMissingTeacherID  = errors.New("teacherId is required")
)
