package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// ChatWebhook posts chat transports to a room-notification webhook.
// Chat rooms carry no unsubscribe semantics, so there is no finalizer.
type ChatWebhook struct {
	url          string
	token        string
	client       *http.Client
	failSilently bool
}

func NewChatWebhook(url, token string, timeout time.Duration, failSilently bool) (*ChatWebhook, error) {
	if url == "" {
		return nil, fmt.Errorf("chat: missing webhook_url")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatWebhook{
		url:          url,
		token:        token,
		client:       &http.Client{Timeout: timeout},
		failSilently: failSilently,
	}, nil
}

type chatPayload struct {
	RoomID        int    `json:"room_id"`
	From          string `json:"from"`
	Message       string `json:"message"`
	MessageFormat string `json:"message_format"`
	Color         string `json:"color"`
	Notify        bool   `json:"notify"`
}

func (c *ChatWebhook) Send(ctx context.Context, msg *model.ChatMessage) (bool, error) {
	body, err := json.Marshal(chatPayload{
		RoomID:        msg.Room,
		From:          msg.FromName,
		Message:       msg.Message(),
		MessageFormat: msg.MessageFormat,
		Color:         msg.Color,
		Notify:        msg.ShouldNotify,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if c.failSilently {
			logger.Warn("chat webhook request failed", zap.Error(err))
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("chat webhook: status %d: %s", resp.StatusCode, respBody)
		if c.failSilently {
			logger.Warn("chat webhook rejected message", zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetURL points the webhook at a test server.
func (c *ChatWebhook) SetURL(u string) { c.url = u }
