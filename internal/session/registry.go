package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"lessonsync/pkg/types"
)

// Registry implements the SessionRegistry interface.
// It owns four maps: sessions by room, the single-valued follow subscription
// of each student, and student presence. Mutations are serialized by the
// caller (the hub); the lock additionally lets diagnostics read a consistent
// snapshot from other goroutines.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*types.LessonSession // roomID -> session
	subscriptions map[string]string               // studentID -> teacherID
	online        map[string]string               // studentID -> connectionID
	logger        *slog.Logger
	now           func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:      make(map[string]*types.LessonSession),
		subscriptions: make(map[string]string),
		online:        make(map[string]string),
		logger:        logger.With("component", "session_registry"),
		now:           time.Now,
	}
}

// StartLesson creates a fresh session for the teacher with CurrentStep = 1.
// Any session the teacher already owns, whatever its lesson, is discarded
// first without notification.
func (r *Registry) StartLesson(teacherID, teacherUsername, lessonID, lessonTitle string, totalSteps int) *types.LessonSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, existing := range r.sessions {
		if existing.TeacherID == teacherID {
			delete(r.sessions, roomID)
			r.logger.Info("replaced active lesson",
				"teacher_id", teacherID, "old_lesson_id", existing.LessonID, "new_lesson_id", lessonID)
		}
	}

	session := &types.LessonSession{
		RoomID:          types.RoomID(teacherID, lessonID),
		TeacherID:       teacherID,
		TeacherUsername: teacherUsername,
		LessonID:        lessonID,
		LessonTitle:     lessonTitle,
		CurrentStep:     1,
		TotalSteps:      totalSteps,
		StartedAt:       r.now(),
		Students:        make(map[string]*types.StudentInSession),
	}
	r.sessions[session.RoomID] = session

	r.logger.Info("lesson started", "room_id", session.RoomID, "total_steps", totalSteps)
	return session.Clone()
}

// EndLesson deletes the teacher's session for the lesson, if present
func (r *Registry) EndLesson(teacherID, lessonID string) {
	roomID := types.RoomID(teacherID, lessonID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[roomID]; !exists {
		return
	}
	delete(r.sessions, roomID)
	r.logger.Info("lesson ended", "room_id", roomID)
}

// EndTeacherSession deletes whichever session the teacher owns and returns it
func (r *Registry) EndTeacherSession(teacherID string) *types.LessonSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.teacherSessionLocked(teacherID)
	if session == nil {
		return nil
	}
	delete(r.sessions, session.RoomID)
	r.logger.Info("teacher session ended", "room_id", session.RoomID)
	return session.Clone()
}

// GetTeacherActiveLesson returns a snapshot of the teacher's running session
func (r *Registry) GetTeacherActiveLesson(teacherID string) (*types.LessonSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session := r.teacherSessionLocked(teacherID)
	if session == nil {
		return nil, false
	}
	return session.Clone(), true
}

// GetSession returns a snapshot of the session behind a room
func (r *Registry) GetSession(roomID string) (*types.LessonSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[roomID]
	if !exists {
		return nil, false
	}
	return session.Clone(), true
}

// SetStep overwrites the session's current step.
// No bound or monotonicity check is applied against TotalSteps.
func (r *Registry) SetStep(teacherID, lessonID string, step int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[types.RoomID(teacherID, lessonID)]
	if !exists {
		return false
	}
	session.CurrentStep = step
	return true
}

// AddStudentToLesson inserts or overwrites the student's entry in the room.
// Membership in other rooms is not checked.
func (r *Registry) AddStudentToLesson(roomID, studentID, username, displayName, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[roomID]
	if !exists {
		return false
	}
	session.Students[studentID] = &types.StudentInSession{
		ID:           studentID,
		Username:     username,
		DisplayName:  displayName,
		JoinedAt:     r.now(),
		CurrentStep:  session.CurrentStep,
		ConnectionID: connectionID,
	}
	return true
}

// RemoveStudentFromLesson removes the student from the room; no-op if absent
func (r *Registry) RemoveStudentFromLesson(roomID, studentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[roomID]; exists {
		delete(session.Students, studentID)
	}
}

// FindStudentRoom scans every session for the student.
// When the student sits in several rooms the earliest started one wins.
func (r *Registry) FindStudentRoom(studentID string) (string, bool) {
	rooms := r.RoomsForStudent(studentID)
	if len(rooms) == 0 {
		return "", false
	}
	return rooms[0], true
}

// RoomsForStudent lists every room containing the student, earliest started first
func (r *Registry) RoomsForStudent(studentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*types.LessonSession
	for _, session := range r.sessions {
		if session.HasStudent(studentID) {
			matches = append(matches, session)
		}
	}
	sortSessions(matches)

	rooms := make([]string, len(matches))
	for i, session := range matches {
		rooms[i] = session.RoomID
	}
	return rooms
}

// RecordStudentStep stores the step a student last answered
func (r *Registry) RecordStudentStep(roomID, studentID string, step int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[roomID]
	if !exists {
		return false
	}
	student, exists := session.Students[studentID]
	if !exists {
		return false
	}
	student.CurrentStep = step
	return true
}

// Subscribe makes the student follow the teacher, replacing any prior subscription
func (r *Registry) Subscribe(studentID, teacherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[studentID] = teacherID
}

// Unsubscribe drops the student's subscription
func (r *Registry) Unsubscribe(studentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, studentID)
}

// GetSubscription returns the teacher the student follows
func (r *Registry) GetSubscription(studentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teacherID, exists := r.subscriptions[studentID]
	return teacherID, exists
}

// GetSubscribedStudents lists the students following the teacher
func (r *Registry) GetSubscribedStudents(teacherID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var students []string
	for studentID, followed := range r.subscriptions {
		if followed == teacherID {
			students = append(students, studentID)
		}
	}
	sort.Strings(students)
	return students
}

// IsSubscribed reports whether the student currently follows the teacher
func (r *Registry) IsSubscribed(studentID, teacherID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	followed, exists := r.subscriptions[studentID]
	return exists && followed == teacherID
}

// SetOnline records the connection a student is reachable on
func (r *Registry) SetOnline(studentID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[studentID] = connectionID
}

// SetOffline forgets the student's connection
func (r *Registry) SetOffline(studentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online, studentID)
}

// GetConnectionID returns the connection a student is reachable on
func (r *Registry) GetConnectionID(studentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connectionID, exists := r.online[studentID]
	return connectionID, exists
}

// GetOnlineSubscribedStudents intersects the teacher's followers with presence
func (r *Registry) GetOnlineSubscribedStudents(teacherID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var students []string
	for studentID, followed := range r.subscriptions {
		if followed != teacherID {
			continue
		}
		if _, online := r.online[studentID]; online {
			students = append(students, studentID)
		}
	}
	sort.Strings(students)
	return students
}

// AllSessions returns snapshots of every active session, earliest started first
func (r *Registry) AllSessions() []*types.LessonSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*types.LessonSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session.Clone())
	}
	sortSessions(sessions)
	return sessions
}

// Stats returns registry counters read under a single lock
func (r *Registry) Stats() types.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	students := 0
	for _, session := range r.sessions {
		students += len(session.Students)
	}
	return types.Stats{
		ActiveSessions:         len(r.sessions),
		TotalStudentsInLessons: students,
		OnlineStudents:         len(r.online),
		Subscriptions:          len(r.subscriptions),
	}
}

func (r *Registry) teacherSessionLocked(teacherID string) *types.LessonSession {
	for _, session := range r.sessions {
		if session.TeacherID == teacherID {
			return session
		}
	}
	return nil
}

func sortSessions(sessions []*types.LessonSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].RoomID < sessions[j].RoomID
	})
}
