package session

import (
	"time"

	"RagChat/internal/endpoint"
	"RagChat/internal/health"
	"RagChat/internal/interaction"
)

// EventKind says which part of the session changed
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventEntry    EventKind = "entry"
	EventPending  EventKind = "pending"
	EventEndpoint EventKind = "endpoint"
)

// Event is a change notification. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind
	Status   health.Status
	Entry    interaction.Entry
	Pending  bool
	Endpoint endpoint.Endpoint
}

// Snapshot is a consistent copy of the session state
type Snapshot struct {
	ID        string              `json:"id"`
	StartTime time.Time           `json:"start_time"`
	Selected  endpoint.Endpoint   `json:"selected"`
	Status    health.Status       `json:"status"`
	Log       []interaction.Entry `json:"log"`
	Pending   bool                `json:"pending"`
}

// Recorder receives every appended entry, e.g. a transcript archive
type Recorder interface {
	Record(sessionID, endpointName string, entry interaction.Entry) error
}
