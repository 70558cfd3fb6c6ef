package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"lessonsync/internal/session"
	"lessonsync/pkg/types"
)

type fixedConnections struct {
	count int
	rooms []string
}

func (c fixedConnections) Count() int      { return c.count }
func (c fixedConnections) Rooms() []string { return c.rooms }

type fixedQueue int

func (q fixedQueue) QueueDepth() int { return int(q) }

func newTestServer(t *testing.T, gatherer prometheus.Gatherer) (*Server, *session.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := session.NewRegistry(logger)
	connections := fixedConnections{count: 3, rooms: []string{"lesson:t1:l1"}}
	return NewServer(registry, connections, fixedQueue(2), gatherer, logger), registry
}

func do(t *testing.T, server http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func TestServer_HealthCheck(t *testing.T) {
	server, registry := newTestServer(t, nil)
	room := registry.StartLesson("t1", "teacher-one", "l1", "Fractions", 5).RoomID
	registry.AddStudentToLesson(room, "s1", "student-one", "Student One", "conn-s1")

	w := do(t, server, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on /health")
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", resp.Status)
	}
	if resp.Connections != 3 || resp.Rooms != 1 {
		t.Errorf("Expected 3 connections in 1 room, got %d in %d", resp.Connections, resp.Rooms)
	}
	if resp.QueueDepth != 2 {
		t.Errorf("Expected queue depth 2, got %d", resp.QueueDepth)
	}
	if resp.Sessions.ActiveSessions != 1 || resp.Sessions.TotalStudentsInLessons != 1 {
		t.Errorf("Unexpected session stats %+v", resp.Sessions)
	}
}

func TestServer_HealthCheckWhileDraining(t *testing.T) {
	server, _ := newTestServer(t, nil)
	server.MarkDraining()

	w := do(t, server, http.MethodGet, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "draining" {
		t.Errorf("Expected draining, got %q", resp.Status)
	}
}

func TestServer_ListLessons(t *testing.T) {
	server, registry := newTestServer(t, nil)

	w := do(t, server, http.MethodGet, "/api/lessons")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"lessons":[]`) {
		t.Errorf("Empty registry should list no lessons, got %s", w.Body.String())
	}

	room := registry.StartLesson("t1", "teacher-one", "l1", "Fractions", 5).RoomID
	registry.AddStudentToLesson(room, "s1", "student-one", "Student One", "conn-s1")
	registry.AddStudentToLesson(room, "s2", "student-two", "Student Two", "conn-s2")
	registry.StartLesson("t2", "teacher-two", "l9", "Decimals", 3)

	w = do(t, server, http.MethodGet, "/api/lessons")
	var resp ListLessonsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Lessons) != 2 {
		t.Fatalf("Expected 2 lessons, got %d", len(resp.Lessons))
	}

	counts := make(map[string]int)
	for _, lesson := range resp.Lessons {
		counts[lesson.RoomID] = lesson.TotalStudents
	}
	if counts[room] != 2 {
		t.Errorf("Expected 2 students in %s, got %d", room, counts[room])
	}
	if counts[types.RoomID("t2", "l9")] != 0 {
		t.Errorf("Expected empty second lesson, got %d", counts[types.RoomID("t2", "l9")])
	}
}

func TestServer_GetLesson(t *testing.T) {
	server, registry := newTestServer(t, nil)
	room := registry.StartLesson("t1", "teacher-one", "l1", "Fractions", 5).RoomID
	registry.AddStudentToLesson(room, "s1", "student-one", "Student One", "conn-s1")
	registry.RecordStudentStep(room, "s1", 2)

	w := do(t, server, http.MethodGet, "/api/lessons/"+room)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp LessonResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.LessonTitle != "Fractions" || resp.TotalSteps != 5 || resp.TotalStudents != 1 {
		t.Errorf("Unexpected lesson %+v", resp.LessonInfo)
	}
	if len(resp.Students) != 1 || resp.Students[0].ID != "s1" || resp.Students[0].CurrentStep != 2 {
		t.Errorf("Unexpected students %+v", resp.Students)
	}
}

func TestServer_GetLessonNotFound(t *testing.T) {
	server, _ := newTestServer(t, nil)

	w := do(t, server, http.MethodGet, "/api/lessons/"+types.RoomID("nobody", "nothing"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Code != http.StatusNotFound || resp.Message != "Lesson not found" {
		t.Errorf("Unexpected error response %+v", resp)
	}
}

func TestServer_RoutingRules(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"lessons are read only", http.MethodPost, "/api/lessons", http.StatusMethodNotAllowed},
		{"preflight", http.MethodOptions, "/api/lessons", http.StatusOK},
		{"unknown path", http.MethodGet, "/api/sessions", http.StatusNotFound},
		{"metrics disabled", http.MethodGet, "/metrics", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, server, tt.method, tt.path); w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server, _ := newTestServer(t, reg)

	w := do(t, server, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_events_total 1") {
		t.Errorf("Expected exposition to contain the counter, got %s", w.Body.String())
	}
}

func TestServer_Handle(t *testing.T) {
	server, _ := newTestServer(t, nil)
	server.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := do(t, server, http.MethodGet, "/ws")
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected mounted handler to run, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") == "application/json" {
		t.Error("Mounted handlers must not get the JSON middleware")
	}
}
