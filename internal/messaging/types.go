package messaging

import (
	"time"

	"github.com/bardlex/oreminer/internal/events"
)

// EventMessage is the envelope published for every mining event
type EventMessage struct {
	Service     string       `json:"service"`
	Version     string       `json:"version"`
	Event       events.Event `json:"event"`
	PublishedAt time.Time    `json:"published_at"`
}

// NewEventMessage wraps e with the publishing service's identity
func NewEventMessage(service, version string, e events.Event) EventMessage {
	return EventMessage{
		Service:     service,
		Version:     version,
		Event:       e,
		PublishedAt: time.Now().UTC(),
	}
}
