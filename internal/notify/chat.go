package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ChatNotifier forwards session outcomes to the chat bot collaborator via a
// webhook. Failures are logged and swallowed: the session outcome is already
// recorded, the bot can poll the session endpoint.
type ChatNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewChatNotifier creates a chat webhook notifier. Returns nil when no
// webhook is configured; callers treat a nil notifier as disabled.
func NewChatNotifier(webhookURL string) *ChatNotifier {
	if webhookURL == "" {
		return nil
	}
	return &ChatNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// chatPayload is the webhook body for a session event.
type chatPayload struct {
	SessionID string `json:"session_id"`
	Event     Event  `json:"event"`
}

// Notify posts the event to the chat webhook. Best effort.
func (c *ChatNotifier) Notify(ctx context.Context, sessionID string, event Event) {
	if c == nil {
		return
	}

	body, err := json.Marshal(chatPayload{SessionID: sessionID, Event: event})
	if err != nil {
		log.Printf("chat notify: marshaling payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("chat notify: creating request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("chat notify: delivery failed for session %s: %v", sessionID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		log.Printf("chat notify: webhook returned %s for session %s", resp.Status, sessionID)
	}
}

// String implements fmt.Stringer for logging.
func (c *ChatNotifier) String() string {
	if c == nil {
		return "chat notifier disabled"
	}
	return fmt.Sprintf("chat notifier -> %s", c.webhookURL)
}
