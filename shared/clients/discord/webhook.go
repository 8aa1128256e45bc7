package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/metricsx"
)

var (
	ErrNotConfigured = errors.New("discord webhook not configured")
	ErrCircuitOpen   = errors.New("discord webhook circuit open")
)

// Message is a Discord webhook payload.
type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Client posts to a Discord webhook with bounded retries and a simple
// circuit breaker. Delivery failures are reported, never fatal; alerts
// are a side channel and must not take the caller down with them.
type Client struct {
	url        string
	httpClient *http.Client
	retryMax   int

	mu           sync.Mutex
	failures     int
	openUntil    time.Time
	failureLimit int
	openFor      time.Duration
}

func NewClient(cfg config.Config) *Client {
	retryMax := cfg.WebhookRetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	return &Client{
		url:          strings.TrimSpace(cfg.DiscordWebhookURL),
		httpClient:   &http.Client{Timeout: time.Duration(cfg.WebhookTimeoutMS) * time.Millisecond},
		retryMax:     retryMax,
		failureLimit: 5,
		openFor:      30 * time.Second,
	}
}

// Send delivers msg. A nil or unconfigured client is a no-op error the
// caller can ignore.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c == nil || c.url == "" {
		return ErrNotConfigured
	}
	if !c.allow() {
		metricsx.IncWebhookDelivery("circuit_open")
		return ErrCircuitOpen
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = c.post(ctx, body); lastErr == nil {
			c.recordSuccess()
			metricsx.IncWebhookDelivery("ok")
			return nil
		}
	}
	c.recordFailure()
	metricsx.IncWebhookDelivery("error")
	return lastErr
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("discord webhook status " + resp.Status)
	}
	return nil
}

func (c *Client) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.openUntil)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.failures++
	if c.failures >= c.failureLimit {
		c.openUntil = time.Now().Add(c.openFor)
		c.failures = 0
	}
	c.mu.Unlock()
}
