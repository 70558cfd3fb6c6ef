package interfaces

import "lessonsync/pkg/types"

// Emitter delivers outbound events and maintains room membership of
// connections. Every method is best-effort: targets that have already closed
// are skipped silently.
type Emitter interface {
	// ToConnection sends an event to exactly one connection
	ToConnection(connectionID string, event *types.OutboundEvent)

	// ToConnections fans an event out to each listed connection individually
	ToConnections(connectionIDs []string, event *types.OutboundEvent)

	// ToRoom broadcasts an event to every connection currently in the room
	ToRoom(roomID string, event *types.OutboundEvent)

	// JoinRoom adds a connection to a room's broadcast scope
	JoinRoom(connectionID, roomID string)

	// LeaveRoom removes a connection from a room's broadcast scope
	LeaveRoom(connectionID, roomID string)

	// CloseRoom removes every connection from a room's broadcast scope
	CloseRoom(roomID string)
}
