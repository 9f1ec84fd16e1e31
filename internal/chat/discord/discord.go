// Package discord implements chat.Client on top of a discordgo session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/reforge/internal/chat"
)

// maxFetch is the largest page Discord returns for a channel history request.
const maxFetch = 100

// Client wraps an authenticated discordgo session.
type Client struct {
	session     *discordgo.Session
	log         *slog.Logger
	openTimeout time.Duration
}

// New creates a bot session for token. The "Bot " prefix is added when missing.
func New(token string, openTimeout time.Duration, log *slog.Logger) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	if log == nil {
		log = slog.Default()
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Client{session: s, log: log, openTimeout: openTimeout}, nil
}

// Open connects the gateway and waits for the READY event.
func (c *Client) Open(ctx context.Context) error {
	ready := make(chan string, 1)
	c.session.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		name := ""
		if r.User != nil {
			name = r.User.String()
		}
		ready <- name
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.openTimeout)
	defer cancel()
	select {
	case name := <-ready:
		c.log.Info("discord session ready", "user", name)
		return nil
	case <-ctx.Done():
		_ = c.session.Close()
		return fmt.Errorf("waiting for discord ready: %w", ctx.Err())
	}
}

func (c *Client) Close() error { return c.session.Close() }

func (c *Client) Channel(ctx context.Context, channelID string) error {
	if c.session.State != nil {
		if _, err := c.session.State.Channel(channelID); err == nil {
			return nil
		}
	}
	if _, err := c.session.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err, "channel "+channelID)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, channelID, content string) (chat.Message, error) {
	m, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, mapError(err, "send to "+channelID)
	}
	return toMessage(m), nil
}

func (c *Client) Fetch(ctx context.Context, channelID, messageID string) (chat.Message, error) {
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, mapError(err, "fetch "+messageID)
	}
	return toMessage(m), nil
}

func (c *Client) Edit(ctx context.Context, channelID, messageID, content string) (chat.Message, error) {
	m, err := c.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, mapError(err, "edit "+messageID)
	}
	return toMessage(m), nil
}

func (c *Client) Delete(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err, "delete "+messageID)
	}
	return nil
}

// Purge removes up to limit recent messages. Bulk delete is tried first; Discord
// rejects it for messages older than two weeks, so it falls back to one by one.
func (c *Client) Purge(ctx context.Context, channelID string, limit int) (int, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}
	msgs, err := c.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, mapError(err, "list "+channelID)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) > 1 {
		err := c.session.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx))
		if err == nil {
			return len(ids), nil
		}
		c.log.Debug("bulk delete failed, deleting individually", "channel", channelID, "error", err)
	}
	n := 0
	for _, id := range ids {
		if err := c.Delete(ctx, channelID, id); err != nil {
			if errors.Is(err, chat.ErrMessageNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func toMessage(m *discordgo.Message) chat.Message {
	if m == nil {
		return chat.Message{}
	}
	return chat.Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
}

// mapError translates Discord REST failures into chat sentinel errors.
func mapError(err error, what string) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownMessage:
				return fmt.Errorf("discord %s: %w", what, chat.ErrMessageNotFound)
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
				return fmt.Errorf("discord %s: %w", what, chat.ErrChannelUnavailable)
			}
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("discord %s: %w", what, chat.ErrMessageNotFound)
			case http.StatusForbidden:
				return fmt.Errorf("discord %s: %w", what, chat.ErrChannelUnavailable)
			}
		}
	}
	return fmt.Errorf("discord %s: %w", what, err)
}

var _ chat.Client = (*Client)(nil)
