package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notifications to a messaging gateway.
type Webhook struct {
	URL     string
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

type webhookMessage struct {
	Notification
	To   string `json:"to"`
	Text string `json:"text"`
}

func (w Webhook) Dispatch(ctx context.Context, n Notification) error {
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("webhook: url not configured")
	}
	if n.Contact.Phone == "" {
		return fmt.Errorf("webhook: process %s has no contact phone", n.ProcessNumber)
	}
	data, err := json.Marshal(webhookMessage{Notification: n, To: n.Contact.Phone, Text: Message(n)})
	if err != nil {
		return err
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AVCB-Event", string(n.Event))
	req.Header.Set("X-AVCB-Process", n.ProcessNumber)
	if strings.TrimSpace(w.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
