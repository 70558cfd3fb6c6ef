package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lessonsync/pkg/types"
)

// SessionSource exposes read-only registry diagnostics
type SessionSource interface {
	AllSessions() []*types.LessonSession
	GetSession(roomID string) (*types.LessonSession, bool)
	Stats() types.Stats
}

// ConnectionSource reports open connections and the rooms they occupy
type ConnectionSource interface {
	Count() int
	Rooms() []string
}

// QueueReporter reports how many inbound operations await processing
type QueueReporter interface {
	QueueDepth() int
}

// Server is the operational HTTP surface: health, metrics and read-only
// lesson diagnostics. Lesson state only changes over the websocket.
type Server struct {
	sessions    SessionSource
	connections ConnectionSource
	queue       QueueReporter
	gatherer    prometheus.Gatherer
	router      *mux.Router
	logger      *slog.Logger
	startedAt   time.Time
	draining    atomic.Bool
}

// NewServer wires the operational routes. A nil gatherer disables /metrics;
// a nil queue reports a depth of zero.
func NewServer(sessions SessionSource, connections ConnectionSource, queue QueueReporter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:    sessions,
		connections: connections,
		queue:       queue,
		gatherer:    gatherer,
		router:      mux.NewRouter(),
		logger:      logger.With("component", "api"),
		startedAt:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))).
		Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)
	api.HandleFunc("/lessons", s.listLessons).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/lessons/{roomId}", s.getLesson).Methods(http.MethodGet, http.MethodOptions)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handle mounts an additional handler, such as the websocket endpoint
func (s *Server) Handle(path string, handler http.Handler) {
	s.router.Handle(path, handler).Methods(http.MethodGet)
}

// MarkDraining makes /health report 503 so load balancers stop routing here
func (s *Server) MarkDraining() {
	s.draining.Store(true)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string      `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
	Uptime      string      `json:"uptime"`
	Connections int         `json:"connections"`
	Rooms       int         `json:"rooms"`
	QueueDepth  int         `json:"queueDepth"`
	Sessions    types.Stats `json:"sessions"`
	Goroutines  int         `json:"goroutines"`
}

// LessonInfo summarizes a running lesson with its headcount
type LessonInfo struct {
	*types.LessonSummary
	TotalStudents int `json:"totalStudents"`
}

type ListLessonsResponse struct {
	Lessons []LessonInfo `json:"lessons"`
}

type LessonResponse struct {
	LessonInfo
	Students []*types.StudentInSession `json:"students"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.draining.Load() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	depth := 0
	if s.queue != nil {
		depth = s.queue.QueueDepth()
	}

	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Connections: s.connections.Count(),
		Rooms:       len(s.connections.Rooms()),
		QueueDepth:  depth,
		Sessions:    s.sessions.Stats(),
		Goroutines:  runtime.NumGoroutine(),
	})
}

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.AllSessions()

	lessons := make([]LessonInfo, 0, len(sessions))
	for _, session := range sessions {
		lessons = append(lessons, lessonInfo(session))
	}

	s.writeJSON(w, http.StatusOK, ListLessonsResponse{Lessons: lessons})
}

func (s *Server) getLesson(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	session, ok := s.sessions.GetSession(roomID)
	if !ok {
		s.sendError(w, "Lesson not found", http.StatusNotFound)
		return
	}

	students := make([]*types.StudentInSession, 0, len(session.Students))
	for _, student := range session.Students {
		students = append(students, student)
	}
	sort.Slice(students, func(i, j int) bool {
		if !students[i].JoinedAt.Equal(students[j].JoinedAt) {
			return students[i].JoinedAt.Before(students[j].JoinedAt)
		}
		return students[i].ID < students[j].ID
	})

	s.writeJSON(w, http.StatusOK, LessonResponse{
		LessonInfo: lessonInfo(session),
		Students:   students,
	})
}

func lessonInfo(session *types.LessonSession) LessonInfo {
	return LessonInfo{
		LessonSummary: types.NewLessonSummary(session),
		TotalStudents: session.StudentCount(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
