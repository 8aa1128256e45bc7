package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"overwatch-command-core/shared/config"
)

func TestSendDeliversPayload(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		got.Store(string(buf))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(config.Config{DiscordWebhookURL: srv.URL, WebhookTimeoutMS: 2000, WebhookRetryMax: 0})
	if err := c.Send(context.Background(), Message{Content: "rate limit stall on server Alpha"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	body, _ := got.Load().(string)
	if body == "" || body == "{}" {
		t.Fatalf("expected payload, got %q", body)
	}
}

func TestSendRetriesThenFails(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.Config{DiscordWebhookURL: srv.URL, WebhookTimeoutMS: 2000, WebhookRetryMax: 2})
	if err := c.Send(context.Background(), Message{Content: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestUnconfiguredClientIsNoop(t *testing.T) {
	c := NewClient(config.Config{WebhookTimeoutMS: 2000})
	if err := c.Send(context.Background(), Message{Content: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var nilClient *Client
	if err := nilClient.Send(context.Background(), Message{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for nil client, got %v", err)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.Config{DiscordWebhookURL: srv.URL, WebhookTimeoutMS: 2000, WebhookRetryMax: 0})
	for i := 0; i < c.failureLimit; i++ {
		c.Send(context.Background(), Message{Content: "x"})
	}
	if err := c.Send(context.Background(), Message{Content: "x"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
