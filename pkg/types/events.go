package types

import (
	"encoding/json"
	"time"
)

// Inbound event names
const (
	EventStartLesson  = "teacher:start_lesson"
	EventSetStep      = "teacher:set_step"
	EventEndLesson    = "teacher:end_lesson"
	EventSubscribe    = "student:subscribe"
	EventUnsubscribe  = "student:unsubscribe"
	EventJoinLesson   = "student:join_lesson"
	EventSubmitAnswer = "student:submit_answer"
	EventLeaveLesson  = "student:leave_lesson"
)

// Outbound event names
const (
	EventLessonAvailable       = "lesson:available"
	EventLessonStarted         = "lesson:started"
	EventLessonStepChanged     = "lesson:step_changed"
	EventLessonEnded           = "lesson:ended"
	EventLessonState           = "lesson:state"
	EventLessonEndConfirmed    = "lesson:end_confirmed"
	EventLessonLeft            = "lesson:left"
	EventSubscriptionConfirmed = "subscription:confirmed"
	EventSubscriptionRemoved   = "subscription:removed"
	EventStudentJoined         = "student:joined"
	EventStudentLeft           = "student:left"
	EventStudentProgress       = "student:progress"
	EventAnswerSubmitted       = "answer:submitted"
	EventError                 = "error"
)

// Reasons carried by lesson:ended
const (
	EndReasonExplicit       = "explicit"
	EndReasonDisconnect     = "disconnect"
	EndReasonServerShutdown = "server_shutdown"
)

// Envelope is the frame format read from clients: an event name plus its
// still-encoded payload, decoded once the event has been role-checked.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is the frame format written to clients
type OutboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewOutbound builds an outbound frame
func NewOutbound(event string, data interface{}) *OutboundEvent {
	return &OutboundEvent{Event: event, Data: data}
}

// Inbound payloads

type StartLessonPayload struct {
	LessonID    string `json:"lessonId"`
	LessonTitle string `json:"lessonTitle"`
	TotalSteps  int    `json:"totalSteps"`
}

type SetStepPayload struct {
	LessonID string `json:"lessonId"`
	Step     int    `json:"step"`
}

type EndLessonPayload struct {
	LessonID string `json:"lessonId"`
}

type SubscribePayload struct {
	TeacherID string `json:"teacherId"`
}

type JoinLessonPayload struct {
	TeacherID   string `json:"teacherId"`
	LessonID    string `json:"lessonId"`
	DisplayName string `json:"displayName,omitempty"`
}

type SubmitAnswerPayload struct {
	LessonID   string `json:"lessonId"`
	StepNumber int    `json:"stepNumber"`
	IsCorrect  bool   `json:"isCorrect"`
}

type LeaveLessonPayload struct {
	LessonID  string `json:"lessonId"`
	TeacherID string `json:"teacherId"`
}

// Outbound payloads

// LessonSummary describes a running lesson. It is the payload of
// lesson:available and lesson:started, and is embedded in subscription:confirmed.
type LessonSummary struct {
	RoomID          string    `json:"roomId"`
	TeacherID       string    `json:"teacherId"`
	TeacherUsername string    `json:"teacherUsername"`
	LessonID        string    `json:"lessonId"`
	LessonTitle     string    `json:"lessonTitle"`
	CurrentStep     int       `json:"currentStep"`
	TotalSteps      int       `json:"totalSteps"`
	StartedAt       time.Time `json:"startedAt"`
}

// NewLessonSummary builds the summary of a session snapshot
func NewLessonSummary(s *LessonSession) *LessonSummary {
	if s == nil {
		return nil
	}
	return &LessonSummary{
		RoomID:          s.RoomID,
		TeacherID:       s.TeacherID,
		TeacherUsername: s.TeacherUsername,
		LessonID:        s.LessonID,
		LessonTitle:     s.LessonTitle,
		CurrentStep:     s.CurrentStep,
		TotalSteps:      s.TotalSteps,
		StartedAt:       s.StartedAt,
	}
}

type StepChanged struct {
	RoomID   string `json:"roomId"`
	LessonID string `json:"lessonId"`
	Step     int    `json:"step"`
}

type LessonEnded struct {
	RoomID    string `json:"roomId"`
	TeacherID string `json:"teacherId"`
	LessonID  string `json:"lessonId"`
	Reason    string `json:"reason"`
}

// LessonState is the snapshot handed to a student right after joining
type LessonState struct {
	RoomID          string `json:"roomId"`
	LessonID        string `json:"lessonId"`
	LessonTitle     string `json:"lessonTitle"`
	CurrentStep     int    `json:"currentStep"`
	TotalSteps      int    `json:"totalSteps"`
	TeacherID       string `json:"teacherId"`
	TeacherUsername string `json:"teacherUsername"`
	TotalStudents   int    `json:"totalStudents"`
}

type EndConfirmed struct {
	LessonID string `json:"lessonId"`
}

type LessonLeft struct {
	TeacherID string `json:"teacherId"`
	LessonID  string `json:"lessonId"`
}

type SubscriptionConfirmed struct {
	TeacherID    string         `json:"teacherId"`
	ActiveLesson *LessonSummary `json:"activeLesson"`
}

type SubscriptionRemoved struct {
	TeacherID string `json:"teacherId,omitempty"`
}

type StudentJoined struct {
	RoomID        string `json:"roomId"`
	StudentID     string `json:"studentId"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	TotalStudents int    `json:"totalStudents"`
}

type StudentLeft struct {
	RoomID        string `json:"roomId"`
	StudentID     string `json:"studentId"`
	Username      string `json:"username"`
	TotalStudents int    `json:"totalStudents"`
}

type StudentProgress struct {
	RoomID      string    `json:"roomId"`
	LessonID    string    `json:"lessonId"`
	StudentID   string    `json:"studentId"`
	Username    string    `json:"username"`
	StepNumber  int       `json:"stepNumber"`
	IsCorrect   bool      `json:"isCorrect"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type AnswerSubmitted struct {
	LessonID   string `json:"lessonId"`
	StepNumber int    `json:"stepNumber"`
	IsCorrect  bool   `json:"isCorrect"`
}

// ErrorPayload is sent only to the sender of an offending event
type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
