package types

import (
	"fmt"
	"time"
)

// Roles carried by an authenticated Identity
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Identity is the verified caller attached to a connection at handshake time.
// It never changes for the lifetime of the connection.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsTeacher reports whether the identity carries the teacher role
func (i Identity) IsTeacher() bool {
	return i.Role == RoleTeacher
}

// IsStudent reports whether the identity carries the student role
func (i Identity) IsStudent() bool {
	return i.Role == RoleStudent
}

// Sender is an inbound event's origin: the connection it arrived on plus the
// identity bound to that connection.
type Sender struct {
	ConnectionID string
	Identity     Identity
}

// LessonSession is one teacher's currently running lesson.
// TotalSteps is informational only and never enforced as a bound on CurrentStep.
type LessonSession struct {
	RoomID          string                       `json:"roomId"`
	TeacherID       string                       `json:"teacherId"`
	TeacherUsername string                       `json:"teacherUsername"`
	LessonID        string                       `json:"lessonId"`
	LessonTitle     string                       `json:"lessonTitle"`
	CurrentStep     int                          `json:"currentStep"`
	TotalSteps      int                          `json:"totalSteps"`
	StartedAt       time.Time                    `json:"startedAt"`
	Students        map[string]*StudentInSession `json:"students"`
}

// StudentCount returns the number of students currently in the session
func (s *LessonSession) StudentCount() int {
	return len(s.Students)
}

// HasStudent reports whether the student is a member of the session
func (s *LessonSession) HasStudent(studentID string) bool {
	_, ok := s.Students[studentID]
	return ok
}

// Clone returns a deep copy safe to hand out of the registry
func (s *LessonSession) Clone() *LessonSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Students = make(map[string]*StudentInSession, len(s.Students))
	for id, student := range s.Students {
		st := *student
		cp.Students[id] = &st
	}
	return &cp
}

// StudentInSession is a student's membership entry inside a LessonSession
type StudentInSession struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
	CurrentStep  int       `json:"currentStep"`
	ConnectionID string    `json:"connectionId"`
}

// Stats is a point-in-time diagnostic snapshot of the session registry
type Stats struct {
	ActiveSessions         int `json:"activeSessions"`
	TotalStudentsInLessons int `json:"totalStudentsInLessons"`
	OnlineStudents         int `json:"onlineStudents"`
	Subscriptions          int `json:"subscriptions"`
}

// RoomID derives the broadcast scope key for a teacher's lesson.
// Clients never construct it; the server always derives and supplies it.
func RoomID(teacherID, lessonID string) string {
	return fmt.Sprintf("lesson:%s:%s", teacherID, lessonID)
}
