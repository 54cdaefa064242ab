package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender 向 Incoming Webhook 地址发送兼容 Slack 的消息体。
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender 返回带超时 HTTP 客户端的发送器。
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Send implements SlackSender.
func (s *WebhookSender) Send(ctx context.Context, channel, content string) error {
	body, err := json.Marshal(map[string]string{"channel": channel, "text": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
