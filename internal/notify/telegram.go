package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramClient posts messages to the chat provider. Calls are bounded at
// 5 s; failures are returned to the caller and never retried.
type TelegramClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewTelegramClient creates a client for the given bot token.
func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		baseURL: telegramAPIBase,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// NewTelegramClientWithBase creates a client against a custom API base.
// Used by tests to point at a local server.
func NewTelegramClientWithBase(token, baseURL string) *TelegramClient {
	c := NewTelegramClient(token)
	c.baseURL = baseURL
	return c
}

type sendMessageRequest struct {
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ParseMode        string `json:"parse_mode"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts text to a chat. A non-zero replyTo threads the message
// under that root. Returns the new message id.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ParseMode:        "HTML",
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !out.OK {
		return 0, fmt.Errorf("telegram error (%d): %s", resp.StatusCode, out.Description)
	}
	return out.Result.MessageID, nil
}
