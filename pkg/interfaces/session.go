package interfaces

import "lessonsync/pkg/types"

// SessionRegistry is the authoritative store of lesson sessions, follow
// subscriptions and student presence. Callers serialize mutations; the
// returned sessions are snapshots and never alias registry state.
type SessionRegistry interface {
	StartLesson(teacherID, teacherUsername, lessonID, lessonTitle string, totalSteps int) *types.LessonSession
	EndLesson(teacherID, lessonID string)
	EndTeacherSession(teacherID string) *types.LessonSession
	GetTeacherActiveLesson(teacherID string) (*types.LessonSession, bool)
	GetSession(roomID string) (*types.LessonSession, bool)
	SetStep(teacherID, lessonID string, step int) bool

	AddStudentToLesson(roomID, studentID, username, displayName, connectionID string) bool
	RemoveStudentFromLesson(roomID, studentID string)
	FindStudentRoom(studentID string) (string, bool)
	RoomsForStudent(studentID string) []string
	RecordStudentStep(roomID, studentID string, step int) bool

	Subscribe(studentID, teacherID string)
	Unsubscribe(studentID string)
	GetSubscription(studentID string) (string, bool)
	GetSubscribedStudents(teacherID string) []string
	IsSubscribed(studentID, teacherID string) bool

	SetOnline(studentID, connectionID string)
	SetOffline(studentID string)
	GetConnectionID(studentID string) (string, bool)
	GetOnlineSubscribedStudents(teacherID string) []string

	AllSessions() []*types.LessonSession
	Stats() types.Stats
}
