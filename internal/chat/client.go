// Package chat posts relay notifications to a Chatwork room.
package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.chatwork.com/v2"

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. baseURL overrides the API endpoint for tests;
// empty means the public Chatwork API.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// PostMessage sends body to the room as a form-encoded message. Any 2xx
// response is success; other statuses surface a truncated response body as
// the failure reason. A single attempt, no retry.
func (c *Client) PostMessage(ctx context.Context, token, roomID, body string) error {
	endpoint := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/messages"
	form := url.Values{}
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("X-ChatWorkToken", token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("chat post failed: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
