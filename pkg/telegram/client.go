package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBlocked reports that the recipient blocked the bot. Non-retriable;
// broadcast delivery records these as status=blocked.
var ErrBlocked = errors.New("user blocked the bot")

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Sender delivers one reply to a chat. The engine and the broadcast workers
// depend on this interface; the preview endpoint substitutes a capture.
type Sender interface {
	Send(ctx context.Context, token string, chatID int64, reply Reply) error
}

// Client is the HTTP Bot API sender.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a sender. baseURL "" means the production endpoint;
// tests point it at a local server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard Keyboard `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send delivers a text message with an optional inline keyboard.
func (c *Client) Send(ctx context.Context, token string, chatID int64, reply Reply) error {
	payload := sendMessageRequest{ChatID: chatID, Text: reply.Text}
	if len(reply.Keyboard) > 0 {
		payload.ReplyMarkup = &replyMarkup{InlineKeyboard: reply.Keyboard}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("failed to read sendMessage response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("unexpected sendMessage response (status %d)", resp.StatusCode)
	}
	if parsed.OK {
		return nil
	}

	// 403 "bot was blocked by the user" is the Bot API's block signal.
	if parsed.ErrorCode == http.StatusForbidden && strings.Contains(strings.ToLower(parsed.Description), "blocked") {
		return ErrBlocked
	}
	return fmt.Errorf("sendMessage rejected: %d %s", parsed.ErrorCode, parsed.Description)
}
