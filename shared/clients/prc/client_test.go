package prc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/logx"
)

func testClient(t *testing.T, serverURL string, timeoutMS int) *Client {
	t.Helper()
	limiter := NewRegistry(35, time.Minute, 5*time.Minute, nil)
	c, err := NewClient(config.Config{
		PRCAPIURL:    serverURL,
		PRCGlobalKey: "global-key",
		PRCTimeoutMS: timeoutMS,
		PRCRetryMax:  3,
	}, limiter, logx.Logger{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestGetPlayersParsesAndSyncsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/server/players" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Server-Key"); got != "sk-1" {
			t.Errorf("missing server key, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "global-key" {
			t.Errorf("missing global key, got %q", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "7")
		w.Header().Set("X-RateLimit-Reset", "1700000123")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"Player":"CoolGuy:12345","Permission":"Server Moderator","Team":"Police"}]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	players, err := c.GetPlayers(context.Background(), "sk-1")
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(players))
	}
	if players[0].Name() != "CoolGuy" || players[0].ID() != "12345" {
		t.Fatalf("bad identity split: name %q id %q", players[0].Name(), players[0].ID())
	}

	c.limiter.mu.Lock()
	st := c.limiter.states["sk-1"]
	c.limiter.mu.Unlock()
	if st == nil || !st.observed || st.remaining != 7 {
		t.Fatalf("expected header sync remaining=7, got %+v", st)
	}
	if st.resetAt.Unix() != 1700000123 {
		t.Fatalf("expected resetAt from header, got %v", st.resetAt)
	}
}

func TestPermissionLevelOrdering(t *testing.T) {
	cases := map[string]int{
		"Server Owner":         4,
		"server co-owner":      3,
		"Server Administrator": 2,
		" Server Moderator ":   1,
		"Normal":               0,
		"":                     0,
	}
	for raw, want := range cases {
		if got := (Player{Permission: raw}).PermissionLevel(); got != want {
			t.Errorf("PermissionLevel(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestDirectGetNormalizesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/server/joinlogs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"Player":"CoolGuy:12345","Join":true}]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	var logs []JoinLog
	if err := c.DirectGet(context.Background(), "sk-1", "server/joinlogs", &logs); err != nil {
		t.Fatalf("DirectGet: %v", err)
	}
	if len(logs) != 1 || !logs[0].Join {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestMalformedBodyReadsAsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Name": "Overwatch RP", "CurrentPlayers":`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	status, err := c.GetServerStatus(context.Background(), "sk-1")
	if err != nil {
		t.Fatalf("truncated body must not fail the call, got %v", err)
	}
	if status != (ServerStatus{}) {
		t.Fatalf("expected zero-value status, got %+v", status)
	}
}

func TestRateLimitedStopsAfterThirdAttempt(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after":0.01}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	_, err := c.GetServerStatus(context.Background(), "sk-1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", n)
	}
}

func TestRateLimitRecoveryOnRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"retry_after":0.01}`))
			return
		}
		w.Write([]byte(`{"Name":"Overwatch RP","CurrentPlayers":12,"MaxPlayers":40}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	status, err := c.GetServerStatus(context.Background(), "sk-1")
	if err != nil {
		t.Fatalf("GetServerStatus: %v", err)
	}
	if status.Name != "Overwatch RP" || status.CurrentPlayers != 12 {
		t.Fatalf("unexpected status %+v", status)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestInvalidServerKeyIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	err := c.ExecuteCommand(context.Background(), "sk-bad", ":h test")
	if !errors.Is(err, ErrInvalidServerKey) {
		t.Fatalf("expected ErrInvalidServerKey, got %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestTimeoutSurfacesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 50)
	_, err := c.GetPlayers(context.Background(), "sk-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestServerErrorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"roblox is down"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 2000)
	_, err := c.GetJoinLogs(context.Background(), "sk-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", apiErr.Status)
	}
}

func TestExecuteCommandRejectsEmpty(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:0", 2000)
	if err := c.ExecuteCommand(context.Background(), "sk-1", "  "); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestParseRetryAfterFallback(t *testing.T) {
	if got := parseRetryAfter([]byte(`{"retry_after":2}`)); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := parseRetryAfter([]byte(`not json`)); got != defaultRetryAfter {
		t.Fatalf("expected default, got %v", got)
	}
	if got := parseRetryAfter(nil); got != defaultRetryAfter {
		t.Fatalf("expected default for empty body, got %v", got)
	}
}
