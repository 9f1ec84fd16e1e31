// Package telegram implements chat.Client with the Telegram Bot API.
//
// The Bot API cannot read a message by id, so Fetch probes the message with an
// empty reply-markup edit: Telegram answers "message is not modified" for a
// live message and "message to edit not found" for a deleted one. Content is
// therefore never known and Purge is unsupported.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/loykin/reforge/internal/chat"
)

type Client struct {
	token string
	log   *slog.Logger

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
}

func New(token string, log *slog.Logger) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{token: token, log: log}, nil
}

// Open authenticates with getMe.
func (c *Client) Open(_ context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()
	c.log.Info("telegram bot ready", "user", bot.Self.UserName)
	return nil
}

func (c *Client) Close() error { return nil }

func (c *Client) api() (*tgbotapi.BotAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bot == nil {
		return nil, errors.New("telegram client not opened")
	}
	return c.bot, nil
}

func parseChat(channelID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", channelID, chat.ErrChannelUnavailable)
	}
	return id, nil
}

func parseMessage(messageID string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return 0, fmt.Errorf("telegram message id %q: %w", messageID, chat.ErrMessageNotFound)
	}
	return id, nil
}

func (c *Client) Channel(_ context.Context, channelID string) error {
	bot, err := c.api()
	if err != nil {
		return err
	}
	id, err := parseChat(channelID)
	if err != nil {
		return err
	}
	if _, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}}); err != nil {
		return mapError(err, "chat "+channelID)
	}
	return nil
}

func (c *Client) Send(_ context.Context, channelID, content string) (chat.Message, error) {
	bot, err := c.api()
	if err != nil {
		return chat.Message{}, err
	}
	id, err := parseChat(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	m, err := bot.Send(tgbotapi.NewMessage(id, content))
	if err != nil {
		return chat.Message{}, mapError(err, "send to "+channelID)
	}
	return chat.Message{ID: strconv.Itoa(m.MessageID), ChannelID: channelID, Content: m.Text}, nil
}

func (c *Client) Fetch(_ context.Context, channelID, messageID string) (chat.Message, error) {
	bot, err := c.api()
	if err != nil {
		return chat.Message{}, err
	}
	cid, err := parseChat(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	mid, err := parseMessage(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	probe := tgbotapi.NewEditMessageReplyMarkup(cid, mid, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := bot.Request(probe); err != nil && !notModified(err) {
		return chat.Message{}, mapError(err, "fetch "+messageID)
	}
	return chat.Message{ID: messageID, ChannelID: channelID}, nil
}

func (c *Client) Edit(_ context.Context, channelID, messageID, content string) (chat.Message, error) {
	bot, err := c.api()
	if err != nil {
		return chat.Message{}, err
	}
	cid, err := parseChat(channelID)
	if err != nil {
		return chat.Message{}, err
	}
	mid, err := parseMessage(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if _, err := bot.Send(tgbotapi.NewEditMessageText(cid, mid, content)); err != nil && !notModified(err) {
		return chat.Message{}, mapError(err, "edit "+messageID)
	}
	return chat.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (c *Client) Delete(_ context.Context, channelID, messageID string) error {
	bot, err := c.api()
	if err != nil {
		return err
	}
	cid, err := parseChat(channelID)
	if err != nil {
		return err
	}
	mid, err := parseMessage(messageID)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(cid, mid)); err != nil {
		return mapError(err, "delete "+messageID)
	}
	return nil
}

func (c *Client) Purge(context.Context, string, int) (int, error) {
	return 0, fmt.Errorf("telegram purge: %w", chat.ErrUnsupported)
}

func notModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

func mapError(err error, what string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message can't be deleted"):
		return fmt.Errorf("telegram %s: %w", what, chat.ErrMessageNotFound)
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "bot was kicked"),
		strings.Contains(msg, "not enough rights"):
		return fmt.Errorf("telegram %s: %w", what, chat.ErrChannelUnavailable)
	}
	return fmt.Errorf("telegram %s: %w", what, err)
}

var _ chat.Client = (*Client)(nil)
