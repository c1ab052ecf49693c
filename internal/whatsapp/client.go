// Package whatsapp delivers alert messages through an HTTP WhatsApp gateway.
//
// The gateway accepts a JSON body {"to", "message", "type": "text"} with a
// bearer token and answers with {"message_id"}. When no gateway URL or token
// is configured the client runs in simulation mode: every send succeeds with
// a synthetic message ID and the message is only logged.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// Client sends WhatsApp messages.
type Client struct {
	httpClient *resty.Client
	apiURL     string
	simulated  bool
	now        func() time.Time
}

// sendRequest is the gateway request body.
type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// sendResponse is the gateway response body.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// NewClient creates a WhatsApp client. An empty apiURL or token selects
// simulation mode.
func NewClient(apiURL, token string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	simulated := apiURL == "" || token == ""
	if !simulated {
		httpClient.SetAuthToken(token)
	}

	return &Client{httpClient: httpClient, apiURL: apiURL, simulated: simulated, now: time.Now}
}

// Channel identifies the transport.
func (c *Client) Channel() models.Channel {
	return models.ChannelWhatsApp
}

// Simulated reports whether the client only pretends to send.
func (c *Client) Simulated() bool {
	return c.simulated
}

// Send delivers message to the phone number recipient and returns the
// gateway's message ID.
func (c *Client) Send(ctx context.Context, recipient, message string) (string, error) {
	if c.simulated {
		logger.Info("[simulated] WhatsApp to %s: %s", recipient, message)
		return "sim_" + strconv.FormatInt(c.now().UnixMilli(), 10), nil
	}

	var result sendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(sendRequest{To: recipient, Message: message, Type: "text"}).
		SetResult(&result).
		SetError(&result).
		Post(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("failed to call WhatsApp gateway: %w", err)
	}

	if resp.IsError() {
		if result.Error != "" {
			return "", fmt.Errorf("WhatsApp gateway error: %s (status: %d)", result.Error, resp.StatusCode())
		}
		return "", fmt.Errorf("WhatsApp gateway error: status %d", resp.StatusCode())
	}

	if result.MessageID == "" {
		result.MessageID = "wa_" + strconv.FormatInt(c.now().UnixMilli(), 10)
	}
	return result.MessageID, nil
}
