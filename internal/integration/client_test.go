package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"lessonsync/pkg/types"
)

// Frame is one outbound event as a client sees it
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v
func (f *Frame) Decode(v interface{}) error {
	return json.Unmarshal(f.Data, v)
}

// TestClient is a WebSocket participant that buffers everything it receives
type TestClient struct {
	UserID string
	Role   string

	conn   *websocket.Conn
	frames chan *Frame
	done   chan struct{}

	writeMu  sync.Mutex
	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewTestClient dials url with the bearer token and starts reading
func NewTestClient(ctx context.Context, url, userID, role, token string) (*TestClient, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", userID, err)
	}
	resp.Body.Close()

	tc := &TestClient{
		UserID: userID,
		Role:   role,
		conn:   conn,
		frames: make(chan *Frame, 1024),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	return tc, nil
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)

	for {
		var f Frame
		if err := tc.conn.ReadJSON(&f); err != nil {
			tc.mu.Lock()
			tc.closeErr = err
			tc.mu.Unlock()
			return
		}
		tc.frames <- &f
	}
}

// Send writes one event
func (tc *TestClient) Send(event string, data interface{}) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return tc.conn.WriteJSON(map[string]interface{}{"event": event, "data": data})
}

// WaitForEvent returns the next frame of the given event, skipping others
func (tc *TestClient) WaitForEvent(event string, timeout time.Duration) (*Frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-tc.frames:
			if f.Event == event {
				return f, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("%s: timeout waiting for %s", tc.UserID, event)
		case <-tc.done:
			// Drain what arrived before the close
			for {
				select {
				case f := <-tc.frames:
					if f.Event == event {
						return f, nil
					}
				default:
					return nil, fmt.Errorf("%s: disconnected waiting for %s", tc.UserID, event)
				}
			}
		}
	}
}

// ExpectNothing fails if any frame of the given event arrives within the window
func (tc *TestClient) ExpectNothing(event string, window time.Duration) error {
	f, err := tc.WaitForEvent(event, window)
	if err == nil {
		return fmt.Errorf("%s: unexpected %s: %s", tc.UserID, event, f.Data)
	}
	return nil
}

// Drain discards buffered frames
func (tc *TestClient) Drain() {
	for {
		select {
		case <-tc.frames:
		default:
			return
		}
	}
}

// WaitForClose blocks until the server closes the connection and returns the close error
func (tc *TestClient) WaitForClose(timeout time.Duration) error {
	select {
	case <-tc.done:
		tc.mu.Lock()
		defer tc.mu.Unlock()
		return tc.closeErr
	case <-time.After(timeout):
		return fmt.Errorf("%s: connection still open", tc.UserID)
	}
}

// Close closes the connection from the client side
func (tc *TestClient) Close() error {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return nil
	}
	tc.closed = true
	tc.mu.Unlock()

	tc.writeMu.Lock()
	tc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	tc.writeMu.Unlock()

	err := tc.conn.Close()
	<-tc.done
	return err
}

// LessonPayload builds a teacher:start_lesson payload
func LessonPayload(lessonID, title string, steps int) *types.StartLessonPayload {
	return &types.StartLessonPayload{LessonID: lessonID, LessonTitle: title, TotalSteps: steps}
}
