// Package chat abstracts the chat platform the announcements are posted to.
package chat

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotFound is returned when a message id no longer resolves,
	// typically because someone deleted it.
	ErrMessageNotFound = errors.New("message not found")
	// ErrChannelUnavailable is returned when the bot cannot see or use a channel.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrUnsupported is returned by backends that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by chat backend")
)

// Message is the subset of a chat message the bot cares about.
// Content may be empty when the backend cannot read message bodies.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}

// Client is the chat-platform surface used by the bot.
// Implementations must be safe for concurrent use.
type Client interface {
	Open(ctx context.Context) error
	Close() error

	// Channel checks that channelID is reachable.
	Channel(ctx context.Context, channelID string) error
	Send(ctx context.Context, channelID, content string) (Message, error)
	// Fetch returns ErrMessageNotFound when the message was deleted.
	Fetch(ctx context.Context, channelID, messageID string) (Message, error)
	Edit(ctx context.Context, channelID, messageID, content string) (Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
	// Purge removes up to limit recent messages and reports how many went.
	Purge(ctx context.Context, channelID string, limit int) (int, error)
}

// Lookup is the outcome of resolving a tracked message id.
type Lookup struct {
	Message Message
	Found   bool
}

// Find fetches messageID and folds ErrMessageNotFound into Lookup.Found.
// An empty id is reported as not found without calling the backend.
func Find(ctx context.Context, c Client, channelID, messageID string) (Lookup, error) {
	if messageID == "" {
		return Lookup{}, nil
	}
	msg, err := c.Fetch(ctx, channelID, messageID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return Lookup{}, nil
		}
		return Lookup{}, err
	}
	return Lookup{Message: msg, Found: true}, nil
}
