package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DelayQueue is the external durable-delay collaborator: it calls the given
// URL back with the payload after the delay elapses. All "wait and retry
// later" semantics are delegated to it; the process keeps no timers.
type DelayQueue interface {
	Enqueue(url string, payload interface{}, delaySeconds int) error
}

// HTTPDelayQueue publishes delayed callbacks to a QStash-style HTTP queue.
type HTTPDelayQueue struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewHTTPDelayQueue(endpoint, token string) *HTTPDelayQueue {
	return &HTTPDelayQueue{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (q *HTTPDelayQueue) Enqueue(url string, payload interface{}, delaySeconds int) error {
	body, err := json.Marshal(map[string]interface{}{
		"url":   url,
		"body":  payload,
		"delay": delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, q.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+q.Token)

	resp, err := q.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish to delay queue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delay queue rejected message: HTTP %d", resp.StatusCode)
	}
	return nil
}
