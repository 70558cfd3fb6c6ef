package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"lessonsync/internal/metrics"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// TracerName identifies spans started by the router
const TracerName = "lessonsync/router"

// Router translates inbound events into registry operations and emits the
// resulting outbound events with their delivery scope.
// It is not safe for concurrent use: the hub calls it from a single goroutine
// so that registry mutations and the broadcasts they cause are totally ordered.
type Router struct {
	registry    interfaces.SessionRegistry
	emitter     interfaces.Emitter
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Router
type Option func(*Router)

// WithRateLimiter enables per-user inbound rate limiting
func WithRateLimiter(rl *RateLimiter) Option {
	return func(r *Router) {
		r.rateLimiter = rl
	}
}

// WithMetrics records event outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithLogger sets the router's logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithTracer overrides the tracer resolved from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) {
		r.tracer = tracer
	}
}

// NewRouter creates a router over the registry and emitter
func NewRouter(registry interfaces.SessionRegistry, emitter interfaces.Emitter, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		emitter:  emitter,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(TracerName)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// HandleConnect records presence for a freshly authenticated student
func (r *Router) HandleConnect(sender types.Sender) {
	if sender.Identity.IsStudent() {
		r.registry.SetOnline(sender.Identity.ID, sender.ConnectionID)
	}
	r.logger.Info("participant connected",
		"user_id", sender.Identity.ID, "role", sender.Identity.Role, "connection_id", sender.ConnectionID)
}

// Route handles one inbound event. A protocol violation is reported to the
// sender as an error event and also returned for logging.
func (r *Router) Route(ctx context.Context, sender types.Sender, envelope *types.Envelope) error {
	start := r.now()
	eventLabel := envelope.Event
	if !types.IsKnownEvent(eventLabel) {
		eventLabel = "unknown"
	}

	_, span := r.tracer.Start(ctx, "lessonsync."+eventLabel,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("lessonsync.event", envelope.Event),
			attribute.String("lessonsync.user_id", sender.Identity.ID),
			attribute.String("lessonsync.role", sender.Identity.Role),
			attribute.String("lessonsync.connection_id", sender.ConnectionID),
		),
	)
	defer span.End()

	err := r.route(sender, envelope)

	r.metrics.ObserveEvent(eventLabel, err != nil, r.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ProtocolError(errorKind(err))
		r.logger.Warn("event rejected",
			"event", envelope.Event, "user_id", sender.Identity.ID, "error", err)
		r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventError, &types.ErrorPayload{
			Message: err.Error(),
			Event:   envelope.Event,
		}))
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *Router) route(sender types.Sender, envelope *types.Envelope) error {
	event := envelope.Event
	if !types.IsKnownEvent(event) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	// Role gating happens before anything else touches the registry
	if types.IsTeacherEvent(event) && !sender.Identity.IsTeacher() {
		return ErrTeacherOnly
	}
	if types.IsStudentEvent(event) && !sender.Identity.IsStudent() {
		return ErrStudentOnly
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow(sender.Identity.ID) {
		return ErrRateLimitExceeded
	}

	switch event {
	case types.EventStartLesson:
		var p types.StartLessonPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.startLesson(sender, &p)

	case types.EventSetStep:
		var p types.SetStepPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.setStep(sender, &p)

	case types.EventEndLesson:
		var p types.EndLessonPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.endLesson(sender, &p)

	case types.EventSubscribe:
		var p types.SubscribePayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.subscribe(sender, &p)

	case types.EventUnsubscribe:
		return r.unsubscribe(sender)

	case types.EventJoinLesson:
		var p types.JoinLessonPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.joinLesson(sender, &p)

	case types.EventSubmitAnswer:
		var p types.SubmitAnswerPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.submitAnswer(sender, &p)

	case types.EventLeaveLesson:
		var p types.LeaveLessonPayload
		if err := decodePayload(envelope.Data, &p); err != nil {
			return err
		}
		return r.leaveLesson(sender, &p)
	}

	return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func (r *Router) startLesson(sender types.Sender, p *types.StartLessonPayload) error {
	teacher := sender.Identity

	// A replaced session vanishes silently. Its room is emptied even when
	// the new session reuses the same room id, so former members must join
	// again.
	previous, hadPrevious := r.registry.GetTeacherActiveLesson(teacher.ID)

	session := r.registry.StartLesson(teacher.ID, teacher.Username, p.LessonID, p.LessonTitle, p.TotalSteps)

	if hadPrevious {
		r.emitter.CloseRoom(previous.RoomID)
	}
	r.emitter.JoinRoom(sender.ConnectionID, session.RoomID)

	summary := types.NewLessonSummary(session)

	var targets []string
	for _, studentID := range r.registry.GetOnlineSubscribedStudents(teacher.ID) {
		if connectionID, ok := r.registry.GetConnectionID(studentID); ok {
			targets = append(targets, connectionID)
		}
	}
	r.emitter.ToConnections(targets, types.NewOutbound(types.EventLessonAvailable, summary))
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventLessonStarted, summary))

	r.logger.Info("lesson started",
		"room_id", session.RoomID, "teacher_id", teacher.ID, "notified_students", len(targets))
	return nil
}

func (r *Router) setStep(sender types.Sender, p *types.SetStepPayload) error {
	teacherID := sender.Identity.ID
	if !r.registry.SetStep(teacherID, p.LessonID, p.Step) {
		return fmt.Errorf("%w: %s", ErrLessonNotFound, p.LessonID)
	}

	roomID := types.RoomID(teacherID, p.LessonID)
	r.emitter.ToRoom(roomID, types.NewOutbound(types.EventLessonStepChanged, &types.StepChanged{
		RoomID:   roomID,
		LessonID: p.LessonID,
		Step:     p.Step,
	}))
	return nil
}

func (r *Router) endLesson(sender types.Sender, p *types.EndLessonPayload) error {
	teacherID := sender.Identity.ID
	roomID := types.RoomID(teacherID, p.LessonID)

	// Broadcast before deletion so the room is still resolvable for delivery
	r.emitter.ToRoom(roomID, types.NewOutbound(types.EventLessonEnded, &types.LessonEnded{
		RoomID:    roomID,
		TeacherID: teacherID,
		LessonID:  p.LessonID,
		Reason:    types.EndReasonExplicit,
	}))
	r.registry.EndLesson(teacherID, p.LessonID)
	r.emitter.CloseRoom(roomID)
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventLessonEndConfirmed, &types.EndConfirmed{
		LessonID: p.LessonID,
	}))

	r.logger.Info("lesson ended", "room_id", roomID, "reason", types.EndReasonExplicit)
	return nil
}

func (r *Router) subscribe(sender types.Sender, p *types.SubscribePayload) error {
	r.registry.Subscribe(sender.Identity.ID, p.TeacherID)

	active, _ := r.registry.GetTeacherActiveLesson(p.TeacherID)
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventSubscriptionConfirmed, &types.SubscriptionConfirmed{
		TeacherID:    p.TeacherID,
		ActiveLesson: types.NewLessonSummary(active),
	}))
	return nil
}

func (r *Router) unsubscribe(sender types.Sender) error {
	teacherID, _ := r.registry.GetSubscription(sender.Identity.ID)
	r.registry.Unsubscribe(sender.Identity.ID)

	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventSubscriptionRemoved, &types.SubscriptionRemoved{
		TeacherID: teacherID,
	}))
	return nil
}

func (r *Router) joinLesson(sender types.Sender, p *types.JoinLessonPayload) error {
	student := sender.Identity
	roomID := types.RoomID(p.TeacherID, p.LessonID)

	if _, exists := r.registry.GetSession(roomID); !exists {
		return ErrLessonNotActive
	}

	displayName := p.DisplayName
	if displayName == "" {
		displayName = student.Username
	}
	if !r.registry.AddStudentToLesson(roomID, student.ID, student.Username, displayName, sender.ConnectionID) {
		return ErrLessonNotActive
	}
	r.emitter.JoinRoom(sender.ConnectionID, roomID)

	session, _ := r.registry.GetSession(roomID)
	r.emitter.ToRoom(roomID, types.NewOutbound(types.EventStudentJoined, &types.StudentJoined{
		RoomID:        roomID,
		StudentID:     student.ID,
		Username:      student.Username,
		DisplayName:   displayName,
		TotalStudents: session.StudentCount(),
	}))
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventLessonState, &types.LessonState{
		RoomID:          roomID,
		LessonID:        session.LessonID,
		LessonTitle:     session.LessonTitle,
		CurrentStep:     session.CurrentStep,
		TotalSteps:      session.TotalSteps,
		TeacherID:       session.TeacherID,
		TeacherUsername: session.TeacherUsername,
		TotalStudents:   session.StudentCount(),
	}))
	return nil
}

func (r *Router) submitAnswer(sender types.Sender, p *types.SubmitAnswerPayload) error {
	student := sender.Identity

	roomID, found := r.registry.FindStudentRoom(student.ID)
	if !found {
		return ErrNotInLesson
	}
	session, exists := r.registry.GetSession(roomID)
	if !exists {
		return ErrNotInLesson
	}
	r.registry.RecordStudentStep(roomID, student.ID, p.StepNumber)

	r.emitter.ToRoom(roomID, types.NewOutbound(types.EventStudentProgress, &types.StudentProgress{
		RoomID:      roomID,
		LessonID:    session.LessonID,
		StudentID:   student.ID,
		Username:    student.Username,
		StepNumber:  p.StepNumber,
		IsCorrect:   p.IsCorrect,
		SubmittedAt: r.now(),
	}))
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventAnswerSubmitted, &types.AnswerSubmitted{
		LessonID:   session.LessonID,
		StepNumber: p.StepNumber,
		IsCorrect:  p.IsCorrect,
	}))
	return nil
}

func (r *Router) leaveLesson(sender types.Sender, p *types.LeaveLessonPayload) error {
	student := sender.Identity
	roomID := types.RoomID(p.TeacherID, p.LessonID)

	session, exists := r.registry.GetSession(roomID)
	wasMember := exists && session.HasStudent(student.ID)

	r.registry.RemoveStudentFromLesson(roomID, student.ID)
	r.emitter.LeaveRoom(sender.ConnectionID, roomID)

	if wasMember {
		r.emitter.ToRoom(roomID, types.NewOutbound(types.EventStudentLeft, &types.StudentLeft{
			RoomID:        roomID,
			StudentID:     student.ID,
			Username:      student.Username,
			TotalStudents: session.StudentCount() - 1,
		}))
	}
	r.emitter.ToConnection(sender.ConnectionID, types.NewOutbound(types.EventLessonLeft, &types.LessonLeft{
		TeacherID: p.TeacherID,
		LessonID:  p.LessonID,
	}))
	return nil
}

// HandleDisconnect reconciles registry state after a connection closes.
// It never fails; whatever cannot be cleaned up is already gone.
func (r *Router) HandleDisconnect(sender types.Sender) {
	identity := sender.Identity

	switch identity.Role {
	case types.RoleStudent:
		r.disconnectStudent(sender)
	case types.RoleTeacher:
		r.disconnectTeacher(sender)
	}

	r.logger.Info("participant disconnected",
		"user_id", identity.ID, "role", identity.Role, "connection_id", sender.ConnectionID)
}

func (r *Router) disconnectStudent(sender types.Sender) {
	studentID := sender.Identity.ID

	// Presence and subscription belong to the newest connection; an older
	// socket closing late must not erase them.
	if connectionID, online := r.registry.GetConnectionID(studentID); !online || connectionID == sender.ConnectionID {
		r.registry.SetOffline(studentID)
		r.registry.Unsubscribe(studentID)
	}

	for _, roomID := range r.registry.RoomsForStudent(studentID) {
		session, exists := r.registry.GetSession(roomID)
		if !exists {
			continue
		}
		if entry, ok := session.Students[studentID]; !ok || entry.ConnectionID != sender.ConnectionID {
			continue
		}
		r.registry.RemoveStudentFromLesson(roomID, studentID)
		r.emitter.ToRoom(roomID, types.NewOutbound(types.EventStudentLeft, &types.StudentLeft{
			RoomID:        roomID,
			StudentID:     studentID,
			Username:      sender.Identity.Username,
			TotalStudents: session.StudentCount() - 1,
		}))
	}
}

func (r *Router) disconnectTeacher(sender types.Sender) {
	session, exists := r.registry.GetTeacherActiveLesson(sender.Identity.ID)
	if !exists {
		return
	}

	r.emitter.ToRoom(session.RoomID, types.NewOutbound(types.EventLessonEnded, &types.LessonEnded{
		RoomID:    session.RoomID,
		TeacherID: session.TeacherID,
		LessonID:  session.LessonID,
		Reason:    types.EndReasonDisconnect,
	}))
	r.emitter.CloseRoom(session.RoomID)
	r.registry.EndTeacherSession(sender.Identity.ID)

	r.logger.Info("lesson ended", "room_id", session.RoomID, "reason", types.EndReasonDisconnect)
}

// Shutdown notifies every active room that the server is going away and
// ends the sessions. It returns the number of rooms notified.
func (r *Router) Shutdown() int {
	sessions := r.registry.AllSessions()
	for _, session := range sessions {
		r.emitter.ToRoom(session.RoomID, types.NewOutbound(types.EventLessonEnded, &types.LessonEnded{
			RoomID:    session.RoomID,
			TeacherID: session.TeacherID,
			LessonID:  session.LessonID,
			Reason:    types.EndReasonServerShutdown,
		}))
		r.emitter.CloseRoom(session.RoomID)
		r.registry.EndTeacherSession(session.TeacherID)
	}
	r.logger.Info("notified active rooms of shutdown", "rooms", len(sessions))
	return len(sessions)
}

type validatable interface {
	Validate() error
}

// decodePayload unmarshals and validates an inbound payload
func decodePayload(data json.RawMessage, v validatable) error {
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
