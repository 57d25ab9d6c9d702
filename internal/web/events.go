package web

import (
	"context"
	"encoding/json"

	"github.com/blockedby/tgsaver/internal/events"
)

// websocket event types, one per phase
const (
	EventDrain  = "drain"
	EventWalk   = "walk"
	EventExport = "export"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string       `json:"type"`
	Payload events.Event `json:"payload"`
}

// ProgressEvent wraps a bus event for websocket clients.
func ProgressEvent(ev events.Event) []byte {
	b, _ := json.Marshal(WSEvent{Type: string(ev.Phase), Payload: ev})
	return b
}

// Forward broadcasts every bus event to the hub until ctx is done.
func (h *Hub) Forward(ctx context.Context, bus *events.Bus, buffer int) {
	bus.Pipe(ctx, buffer, func(ev events.Event) {
		h.Broadcast(ProgressEvent(ev))
	})
}
