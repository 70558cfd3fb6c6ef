package hub

import (
	"context"
	"log/slog"
	"sync"

	"lessonsync/pkg/types"
)

// DefaultQueueSize is the number of pending operations buffered ahead of the hub goroutine
const DefaultQueueSize = 1000

// EventHandler applies connection lifecycle changes and inbound events.
// The hub never calls it from more than one goroutine.
type EventHandler interface {
	HandleConnect(sender types.Sender)
	Route(ctx context.Context, sender types.Sender, envelope *types.Envelope) error
	HandleDisconnect(sender types.Sender)
	Shutdown() int
}

type opKind int

const (
	opConnect opKind = iota
	opEvent
	opDisconnect
	opShutdown
)

type operation struct {
	kind     opKind
	ctx      context.Context
	sender   types.Sender
	envelope *types.Envelope
	done     chan int
}

// Hub serializes every state change onto a single goroutine.
// Connect, event and disconnect operations share one queue, so the
// operations of a connection are applied in the order they were submitted.
type Hub struct {
	ops     chan operation
	handler EventHandler
	logger  *slog.Logger
	stopped chan struct{}

	mu      sync.RWMutex
	running bool
	started bool
}

// NewHub creates a hub in front of the handler
func NewHub(handler EventHandler, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		ops:     make(chan operation, queueSize),
		handler: handler,
		logger:  logger.With("component", "hub"),
		stopped: make(chan struct{}),
	}
}

// Start begins processing operations until Stop is called or ctx ends.
// A stopped hub cannot be restarted.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	if h.started {
		return ErrHubStopped
	}
	h.running = true
	h.started = true

	h.logger.Info("starting hub")
	go h.run(ctx)

	return nil
}

// Stop notifies every active lesson that the server is shutting down and
// then stops the hub. Operations queued before Stop are applied first.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	h.logger.Info("stopping hub")

	done := make(chan int, 1)
	select {
	case h.ops <- operation{kind: opShutdown, done: done}:
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case notified := <-done:
		h.logger.Info("hub stopped", "rooms_notified", notified)
		return nil
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect queues a newly authenticated connection
func (h *Hub) Connect(sender types.Sender) {
	h.submit(operation{kind: opConnect, sender: sender})
}

// Dispatch queues an inbound event
func (h *Hub) Dispatch(ctx context.Context, sender types.Sender, envelope *types.Envelope) {
	h.submit(operation{kind: opEvent, ctx: ctx, sender: sender, envelope: envelope})
}

// Disconnect queues the cleanup of a closed connection
func (h *Hub) Disconnect(sender types.Sender) {
	h.submit(operation{kind: opDisconnect, sender: sender})
}

// QueueDepth returns the number of operations waiting to be applied
func (h *Hub) QueueDepth() int {
	return len(h.ops)
}

// submit blocks while the queue is full, which pushes back on the
// submitting connection's reader.
func (h *Hub) submit(op operation) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	if !running {
		h.logger.Debug("operation dropped, hub not running", "connection_id", op.sender.ConnectionID)
		return
	}

	select {
	case h.ops <- op:
	case <-h.stopped:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case op := <-h.ops:
			if h.apply(op) {
				return
			}
		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

// apply runs one operation and reports whether the hub should exit
func (h *Hub) apply(op operation) bool {
	switch op.kind {
	case opConnect:
		h.handler.HandleConnect(op.sender)

	case opEvent:
		ctx := op.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := h.handler.Route(ctx, op.sender, op.envelope); err != nil {
			h.logger.Debug("event failed", "event", op.envelope.Event, "connection_id", op.sender.ConnectionID, "error", err)
		}

	case opDisconnect:
		h.handler.HandleDisconnect(op.sender)

	case opShutdown:
		op.done <- h.handler.Shutdown()
		return true
	}
	return false
}
