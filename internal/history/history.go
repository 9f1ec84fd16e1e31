package history

import (
	"context"
	"time"
)

// EventType names an announcement the bot made.
type EventType string

const (
	EventStatusCreated      EventType = "status_created"
	EventStatusRecreated    EventType = "status_recreated"
	EventStatusEdited       EventType = "status_edited"
	EventCountdownSent      EventType = "countdown_sent"
	EventPlaceholderPosted  EventType = "placeholder_posted"
	EventPlaceholderRemoved EventType = "placeholder_removed"
	EventReborn             EventType = "reborn"
)

// Event is one chat mutation exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ChannelID  string    `json:"channel_id"`
	MessageID  string    `json:"message_id,omitempty"`
	// Cycle is the restart key the event belongs to, if any.
	Cycle   string `json:"cycle,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Content string `json:"content,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
