// Package memory is an in-process chat backend. It backs dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/loykin/reforge/internal/chat"
)

// Op names a recorded client call.
type Op string

const (
	OpSend   Op = "send"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
	OpPurge  Op = "purge"
)

// Call is one recorded mutation.
type Call struct {
	Op        Op
	ChannelID string
	MessageID string
	Content   string
}

// Client keeps channels and messages in memory. Channels must be added before
// use unless AutoCreate is set.
type Client struct {
	AutoCreate bool
	Log        *slog.Logger

	mu       sync.Mutex
	seq      int
	channels map[string][]chat.Message
	calls    []Call
	open     bool
}

func New(channels ...string) *Client {
	c := &Client{channels: make(map[string][]chat.Message)}
	for _, ch := range channels {
		c.channels[ch] = nil
	}
	return c
}

// AddChannel makes channelID reachable.
func (c *Client) AddChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channelID]; !ok {
		c.channels[channelID] = nil
	}
}

// RemoveChannel makes channelID unreachable, dropping its messages.
func (c *Client) RemoveChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
}

// Remove deletes a message behind the bot's back, as a moderator would.
func (c *Client) Remove(channelID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(channelID, messageID)
}

// Messages returns the channel history, oldest first.
func (c *Client) Messages(channelID string) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Message, len(c.channels[channelID]))
	copy(out, c.channels[channelID])
	return out
}

// Calls returns the recorded mutations in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Sent returns the contents of every Send to channelID in order.
func (c *Client) Sent(channelID string) []string {
	var out []string
	for _, call := range c.Calls() {
		if call.Op == OpSend && call.ChannelID == channelID {
			out = append(out, call.Content)
		}
	}
	return out
}

func (c *Client) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *Client) channelLocked(channelID string) ([]chat.Message, error) {
	msgs, ok := c.channels[channelID]
	if !ok {
		if !c.AutoCreate {
			return nil, fmt.Errorf("memory channel %s: %w", channelID, chat.ErrChannelUnavailable)
		}
		c.channels[channelID] = nil
	}
	return msgs, nil
}

func (c *Client) Channel(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.channelLocked(channelID)
	return err
}

func (c *Client) Send(_ context.Context, channelID, content string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := c.channelLocked(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	c.seq++
	m := chat.Message{ID: strconv.Itoa(c.seq), ChannelID: channelID, Content: content}
	c.channels[channelID] = append(msgs, m)
	c.calls = append(c.calls, Call{Op: OpSend, ChannelID: channelID, MessageID: m.ID, Content: content})
	if c.Log != nil {
		c.Log.Info("memory chat send", "channel", channelID, "message", m.ID, "content", content)
	}
	return m, nil
}

func (c *Client) Fetch(_ context.Context, channelID, messageID string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := c.channelLocked(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return m, nil
		}
	}
	return chat.Message{}, fmt.Errorf("memory message %s: %w", messageID, chat.ErrMessageNotFound)
}

func (c *Client) Edit(_ context.Context, channelID, messageID, content string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := c.channelLocked(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			c.calls = append(c.calls, Call{Op: OpEdit, ChannelID: channelID, MessageID: messageID, Content: content})
			if c.Log != nil {
				c.Log.Info("memory chat edit", "channel", channelID, "message", messageID, "content", content)
			}
			return msgs[i], nil
		}
	}
	return chat.Message{}, fmt.Errorf("memory message %s: %w", messageID, chat.ErrMessageNotFound)
}

func (c *Client) Delete(_ context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.channelLocked(channelID); err != nil {
		return err
	}
	if !c.removeLocked(channelID, messageID) {
		return fmt.Errorf("memory message %s: %w", messageID, chat.ErrMessageNotFound)
	}
	c.calls = append(c.calls, Call{Op: OpDelete, ChannelID: channelID, MessageID: messageID})
	return nil
}

func (c *Client) Purge(_ context.Context, channelID string, limit int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := c.channelLocked(channelID)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	c.channels[channelID] = msgs[:len(msgs)-limit]
	c.calls = append(c.calls, Call{Op: OpPurge, ChannelID: channelID, Content: strconv.Itoa(limit)})
	return limit, nil
}

func (c *Client) removeLocked(channelID, messageID string) bool {
	msgs := c.channels[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			c.channels[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

var _ chat.Client = (*Client)(nil)
