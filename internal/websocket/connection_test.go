package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"lessonsync/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newConnectionPair returns a server-side Connection and the client end of
// the same socket.
func newConnectionPair(t *testing.T, identity types.Identity, cfg Config) (*Connection, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case ws := <-serverSide:
		conn := NewConnection(ws, identity, cfg, discardLogger())
		t.Cleanup(conn.Close)
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server side of the connection")
		return nil, nil
	}
}

// newDetachedConnection has no socket and no writer, so its queue only
// drains when the test reads it.
func newDetachedConnection(id string, identity types.Identity, buffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:       id,
		identity: identity,
		sendCh:   make(chan []byte, buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   discardLogger(),
	}
}

func readEvent(t *testing.T, client *websocket.Conn) types.Envelope {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Frame is not an envelope: %v (%s)", err, data)
	}
	return envelope
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	identity := types.Identity{ID: "s1", Username: "sam", Role: types.RoleStudent}
	conn, _ := newConnectionPair(t, identity, DefaultConfig())

	if conn.ID() == "" {
		t.Error("Connection should be assigned an id")
	}
	if cap(conn.sendCh) != DefaultConfig().SendBuffer {
		t.Errorf("Expected send buffer of %d, got %d", DefaultConfig().SendBuffer, cap(conn.sendCh))
	}
	sender := conn.Sender()
	if sender.ConnectionID != conn.ID() || sender.Identity != identity {
		t.Errorf("Unexpected sender %+v", sender)
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	identity := types.Identity{ID: "s1", Role: types.RoleStudent}
	a, _ := newConnectionPair(t, identity, DefaultConfig())
	b, _ := newConnectionPair(t, identity, DefaultConfig())

	if a.ID() == b.ID() {
		t.Error("Two connections of the same user must have distinct ids")
	}
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	conn, client := newConnectionPair(t, types.Identity{ID: "t1", Role: types.RoleTeacher}, DefaultConfig())

	for _, event := range []string{"first", "second", "third"} {
		if err := conn.Send([]byte(`{"event":"` + event + `","data":null}`)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		if got := readEvent(t, client).Event; got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestConnection_SendNeverBlocks(t *testing.T) {
	conn := newDetachedConnection("c1", types.Identity{ID: "s1", Role: types.RoleStudent}, 2)

	if err := conn.Send([]byte("a")); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if err := conn.Send([]byte("b")); err != nil {
		t.Fatalf("Second send failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Send([]byte("c")) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSendBufferFull) {
			t.Errorf("Expected ErrSendBufferFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn := newDetachedConnection("c1", types.Identity{ID: "s1", Role: types.RoleStudent}, 2)
	conn.Close()
	conn.Close()

	if err := conn.Send([]byte("a")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseFlushesQueuedFrames(t *testing.T) {
	conn, client := newConnectionPair(t, types.Identity{ID: "t1", Role: types.RoleTeacher}, DefaultConfig())

	for i := 0; i < 5; i++ {
		if err := conn.Send([]byte(`{"event":"lesson:ended","data":null}`)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	conn.Close()

	received := 0
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := client.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("Expected a normal close, got %v", err)
			}
			break
		}
		received++
	}
	if received != 5 {
		t.Errorf("Expected 5 frames flushed before close, got %d", received)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Error("Done should be closed once the writer exits")
	}
}

func TestConnection_WriterExitsWhenPeerGoesAway(t *testing.T) {
	conn, client := newConnectionPair(t, types.Identity{ID: "t1", Role: types.RoleTeacher}, Config{
		SendBuffer:   4,
		WriteTimeout: 200 * time.Millisecond,
		PingInterval: 20 * time.Millisecond,
	})
	client.Close()

	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Writer should stop after the peer disappears")
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed after writer exit, got %v", err)
	}
}
