// Package messaging wraps the chat/WhatsApp gateway's outbound send API.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender is the outbound contract the gateway and workflow depend on.
type Sender interface {
	SendText(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address, mediaURL, caption string) (string, error)
}

// Client talks to the messaging gateway over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// SendText sends a text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, address, text string) (string, error) {
	return c.post(ctx, "/messages/text", map[string]string{
		"to":   address,
		"text": text,
	})
}

// SendMedia sends a media message with a caption.
func (c *Client) SendMedia(ctx context.Context, address, mediaURL, caption string) (string, error) {
	return c.post(ctx, "/messages/media", map[string]string{
		"to":      address,
		"url":     mediaURL,
		"caption": caption,
	})
}

func (c *Client) post(ctx context.Context, path string, body map[string]string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway response decode failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return "", fmt.Errorf("gateway send failed (%d): %s", resp.StatusCode, out.Error)
	}
	return out.MessageID, nil
}
