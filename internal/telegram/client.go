// Package telegram provides a client for sending notifications via Telegram Bot API.
// It delivers seismic alerts to emergency contacts by chat ID and sends
// operational alerts (pipeline failures and recoveries) to an ops chat.
//
// Delivery is retried with a linear backoff. Alert text is sent as plain
// text; operational messages use MarkdownV2 with full escaping.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	opsChatID      int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client. opsChatID may be empty, which
// disables operational alerts.
func NewClient(botToken, opsChatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	return NewClientWithEndpoint(botToken, tgbotapi.APIEndpoint, opsChatID, maxRetries, retryDelayBase)
}

// NewClientWithEndpoint creates a client against a custom Bot API endpoint,
// in the "https://host/bot%s/%s" format.
func NewClientWithEndpoint(botToken, endpoint, opsChatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	var chatIDInt int64
	if opsChatID != "" {
		chatIDInt, err = strconv.ParseInt(opsChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ops chat ID: %w", err)
		}
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		opsChatID:      chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Channel identifies the transport.
func (c *Client) Channel() models.Channel {
	return models.ChannelTelegram
}

// Send delivers an alert to the chat ID recipient and returns the Telegram
// message ID.
func (c *Client) Send(ctx context.Context, recipient, message string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID %q: %w", recipient, err)
	}

	sent, err := c.send(ctx, tgbotapi.NewMessage(chatID, message))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendError notifies the ops chat that the pipeline is failing.
func (c *Client) SendError(err error) error {
	if c.opsChatID == 0 {
		return nil
	}
	text := "⚠️ *quakesentinel error*\n\n" + escapeMarkdownV2(err.Error())
	return c.sendOps(text)
}

// SendRecovery notifies the ops chat that the pipeline recovered after
// failures consecutive failures spanning downtime.
func (c *Client) SendRecovery(failures int, downtime time.Duration) error {
	if c.opsChatID == 0 {
		return nil
	}
	text := fmt.Sprintf("✅ *quakesentinel recovered*\n\nAfter %d consecutive failures over %s",
		failures, escapeMarkdownV2(formatDuration(downtime)))
	return c.sendOps(text)
}

func (c *Client) sendOps(text string) error {
	msg := tgbotapi.NewMessage(c.opsChatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := c.send(context.Background(), msg)
	return err
}

// send retries msg with a linear backoff until ctx is done.
func (c *Client) send(ctx context.Context, msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		sent, err := c.bot.Send(msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return tgbotapi.Message{}, fmt.Errorf("telegram send cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return tgbotapi.Message{}, fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
