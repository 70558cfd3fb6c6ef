package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"lessonsync/internal/metrics"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

var _ interfaces.Emitter = (*Registry)(nil)

// Registry tracks live connections and the rooms they belong to.
// It implements interfaces.Emitter: events are encoded once and enqueued on
// each target connection. A connection whose queue is full is closed.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection         // connectionID -> Connection
	rooms       map[string]map[string]struct{} // roomID -> connectionIDs
	memberships map[string]map[string]struct{} // connectionID -> roomIDs
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewRegistry creates an empty connection registry
func NewRegistry(m *metrics.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
		metrics:     m,
		logger:      logger.With("component", "connection_registry"),
	}
}

// Register makes the connection addressable
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes the connection and every room membership it holds.
// It only acts on the exact instance that was registered.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	for roomID := range r.memberships[conn.ID()] {
		r.leaveLocked(conn.ID(), roomID)
	}
	delete(r.memberships, conn.ID())
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// ToConnection implements interfaces.Emitter
func (r *Registry) ToConnection(connectionID string, event *types.OutboundEvent) {
	r.ToConnections([]string{connectionID}, event)
}

// ToConnections implements interfaces.Emitter
func (r *Registry) ToConnections(connectionIDs []string, event *types.OutboundEvent) {
	if len(connectionIDs) == 0 {
		return
	}

	r.mu.RLock()
	targets := make([]*Connection, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if conn, exists := r.connections[id]; exists {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	r.deliver(targets, event)
}

// ToRoom implements interfaces.Emitter. Members are resolved at call time.
func (r *Registry) ToRoom(roomID string, event *types.OutboundEvent) {
	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]*Connection, 0, len(members))
	for id := range members {
		if conn, exists := r.connections[id]; exists {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	r.deliver(targets, event)
}

// JoinRoom implements interfaces.Emitter. Unknown connections are ignored
// so a late join cannot resurrect a closed socket.
func (r *Registry) JoinRoom(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[connectionID]; !exists {
		return
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][connectionID] = struct{}{}

	if r.memberships[connectionID] == nil {
		r.memberships[connectionID] = make(map[string]struct{})
	}
	r.memberships[connectionID][roomID] = struct{}{}
}

// LeaveRoom implements interfaces.Emitter
func (r *Registry) LeaveRoom(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(connectionID, roomID)
	if rooms, exists := r.memberships[connectionID]; exists && len(rooms) == 0 {
		delete(r.memberships, connectionID)
	}
}

// CloseRoom implements interfaces.Emitter
func (r *Registry) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connectionID := range r.rooms[roomID] {
		if rooms, exists := r.memberships[connectionID]; exists {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(r.memberships, connectionID)
			}
		}
	}
	delete(r.rooms, roomID)
}

// Rooms lists every room that has at least one connection
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomMembers lists the connections currently in a room
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// CloseAll closes every connection and waits until their queued frames
// are flushed or ctx expires.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
	for _, conn := range conns {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			r.logger.Warn("gave up draining connections", "error", ctx.Err())
			return ctx.Err()
		}
	}

	r.logger.Info("closed all connections", "count", len(conns))
	return nil
}

func (r *Registry) leaveLocked(connectionID, roomID string) {
	if members, exists := r.rooms[roomID]; exists {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, exists := r.memberships[connectionID]; exists {
		delete(rooms, roomID)
	}
}

func (r *Registry) deliver(targets []*Connection, event *types.OutboundEvent) {
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to encode event", "event", event.Event, "error", err)
		return
	}

	for _, conn := range targets {
		err := conn.Send(data)
		switch {
		case err == nil:
		case errors.Is(err, ErrSendBufferFull):
			r.metrics.EmissionDropped()
			r.logger.Warn("slow consumer disconnected",
				"connection_id", conn.ID(), "user_id", conn.Identity().ID, "event", event.Event)
			conn.Close()
		case errors.Is(err, ErrConnectionClosed):
			r.metrics.EmissionDropped()
			r.logger.Debug("dropped event for closing connection",
				"connection_id", conn.ID(), "event", event.Event)
		}
	}
}
