package types

import "strings"

// IsKnownEvent checks if the inbound event name is part of the protocol
func IsKnownEvent(event string) bool {
	return IsTeacherEvent(event) || IsStudentEvent(event)
}

// IsTeacherEvent reports whether only teachers may send the event
func IsTeacherEvent(event string) bool {
	switch event {
	case EventStartLesson, EventSetStep, EventEndLesson:
		return true
	default:
		return false
	}
}

// IsStudentEvent reports whether only students may send the event
func IsStudentEvent(event string) bool {
	switch event {
	case EventSubscribe, EventUnsubscribe, EventJoinLesson, EventSubmitAnswer, EventLeaveLesson:
		return true
	default:
		return false
	}
}

// IsValidRole checks the role claim of an identity
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// Validate ensures the identity is usable as a connection principal
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrMissingIdentityID
	}
	if !IsValidRole(i.Role) {
		return ErrInvalidRole
	}
	return nil
}

func (p *StartLessonPayload) Validate() error {
	if p.LessonID == "" {
		return ErrMissingLessonID
	}
	return nil
}

func (p *SetStepPayload) Validate() error {
	if p.LessonID == "" {
		return ErrMissingLessonID
	}
	return nil
}

func (p *EndLessonPayload) Validate() error {
	if p.LessonID == "" {
		return ErrMissingLessonID
	}
	return nil
}

func (p *SubscribePayload) Validate() error {
	if p.TeacherID == "" {
		return ErrMissingTeacherID
	}
	return nil
}

func (p *JoinLessonPayload) Validate() error {
	if p.TeacherID == "" {
		return ErrMissingTeacherID
	}
	if p.LessonID == "" {
		return ErrMissingLessonID
	}
	return nil
}

// Validate accepts any step number; lessonId is informational because the
// student's room is resolved from membership.
func (p *SubmitAnswerPayload) Validate() error {
	return nil
}

func (p *LeaveLessonPayload) Validate() error {
	if p.TeacherID == "" {
		return ErrMissingTeacherID
	}
	if p.LessonID == "" {
		return ErrMissingLessonID
	}
	return nil
}
