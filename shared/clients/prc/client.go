package prc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"overwatch-command-core/shared/config"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
)

const defaultRetryAfter = 5 * time.Second

// ServerStatus is the live state of a game server.
type ServerStatus struct {
	Name           string `json:"Name"`
	OwnerID        int64  `json:"OwnerId"`
	CurrentPlayers int    `json:"CurrentPlayers"`
	MaxPlayers     int    `json:"MaxPlayers"`
	JoinKey        string `json:"JoinKey"`
	AccVerified    string `json:"AccVerifiedReq"`
	TeamBalance    bool   `json:"TeamBalance"`
}

// Player is one online player. The API encodes identity as "Name:Id".
type Player struct {
	Player     string `json:"Player"`
	Permission string `json:"Permission"`
	Team       string `json:"Team"`
	Callsign   string `json:"Callsign"`
}

func (p Player) Name() string {
	if i := strings.LastIndex(p.Player, ":"); i >= 0 {
		return p.Player[:i]
	}
	return p.Player
}

func (p Player) ID() string {
	if i := strings.LastIndex(p.Player, ":"); i >= 0 {
		return p.Player[i+1:]
	}
	return ""
}

// PermissionLevel collapses the API's permission strings into an
// ordered level so rules can compare with GREATER_THAN/LESS_THAN.
func (p Player) PermissionLevel() int {
	switch strings.ToLower(strings.TrimSpace(p.Permission)) {
	case "server owner":
		return 4
	case "server co-owner":
		return 3
	case "server administrator":
		return 2
	case "server moderator":
		return 1
	default:
		return 0
	}
}

type JoinLog struct {
	Join      bool   `json:"Join"`
	Timestamp int64  `json:"Timestamp"`
	Player    string `json:"Player"`
}

type KillLog struct {
	Killed    string `json:"Killed"`
	Timestamp int64  `json:"Timestamp"`
	Killer    string `json:"Killer"`
}

type CommandLog struct {
	Player    string `json:"Player"`
	Timestamp int64  `json:"Timestamp"`
	Command   string `json:"Command"`
}

// Client talks to the PRC server API. Read endpoints go through the
// per-key serializer so calls against one server never overlap; command
// execution is direct because it is user-triggered and latency matters.
type Client struct {
	baseURL    string
	globalKey  string
	httpClient *http.Client
	limiter    *Registry
	serializer *Serializer
	retryMax   int
	logger     logx.Logger
}

func NewClient(cfg config.Config, limiter *Registry, logger logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.PRCAPIURL), "/")
	if base == "" {
		return nil, errors.New("PRC_API_URL is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limit registry is required")
	}
	retryMax := cfg.PRCRetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	return &Client{
		baseURL:    base,
		globalKey:  strings.TrimSpace(cfg.PRCGlobalKey),
		httpClient: &http.Client{Timeout: time.Duration(cfg.PRCTimeoutMS) * time.Millisecond},
		limiter:    limiter,
		serializer: NewSerializer(),
		retryMax:   retryMax,
		logger:     logger,
	}, nil
}

func (c *Client) Close() {
	if c == nil || c.serializer == nil {
		return
	}
	c.serializer.Close()
}

func (c *Client) GetServerStatus(ctx context.Context, serverKey string) (ServerStatus, error) {
	var out ServerStatus
	err := c.queued(ctx, serverKey, http.MethodGet, "/server", nil, &out)
	return out, err
}

func (c *Client) GetPlayers(ctx context.Context, serverKey string) ([]Player, error) {
	var out []Player
	err := c.queued(ctx, serverKey, http.MethodGet, "/server/players", nil, &out)
	return out, err
}

func (c *Client) GetJoinLogs(ctx context.Context, serverKey string) ([]JoinLog, error) {
	var out []JoinLog
	err := c.queued(ctx, serverKey, http.MethodGet, "/server/joinlogs", nil, &out)
	return out, err
}

func (c *Client) GetKillLogs(ctx context.Context, serverKey string) ([]KillLog, error) {
	var out []KillLog
	err := c.queued(ctx, serverKey, http.MethodGet, "/server/killlogs", nil, &out)
	return out, err
}

func (c *Client) GetCommandLogs(ctx context.Context, serverKey string) ([]CommandLog, error) {
	var out []CommandLog
	err := c.queued(ctx, serverKey, http.MethodGet, "/server/commandlogs", nil, &out)
	return out, err
}

// DirectGet reads an arbitrary PRC path without the serializer, for
// callers that need a fresh answer ahead of any queued reads.
func (c *Client) DirectGet(ctx context.Context, serverKey string, path string, out any) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.do(ctx, serverKey, http.MethodGet, path, nil, out)
}

// ExecuteCommand sends a command string to the server console. It skips
// the serializer but still honors the rate budget and retry policy.
func (c *Client) ExecuteCommand(ctx context.Context, serverKey string, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return errors.New("command is empty")
	}
	body := map[string]string{"command": command}
	return c.do(ctx, serverKey, http.MethodPost, "/server/command", body, nil)
}

func (c *Client) queued(ctx context.Context, serverKey string, method string, path string, body any, out any) error {
	if c == nil || c.serializer == nil {
		return errors.New("prc client not initialized")
	}
	return c.serializer.Do(ctx, serverKey, func(ctx context.Context) error {
		return c.do(ctx, serverKey, method, path, body, out)
	})
}

func (c *Client) do(ctx context.Context, serverKey string, method string, path string, body any, out any) error {
	if c == nil || c.httpClient == nil {
		return errors.New("prc client not initialized")
	}
	serverKey = strings.TrimSpace(serverKey)
	if serverKey == "" {
		return ErrInvalidServerKey
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		if err := c.limiter.Wait(ctx, serverKey); err != nil {
			return err
		}

		retryAfter, err := c.once(ctx, serverKey, method, path, body, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err
		metricsx.IncPRCRateLimited()
		c.limiter.Block(serverKey, retryAfter)
	}
	return lastErr
}

// once performs a single HTTP exchange. On 429 it returns ErrRateLimited
// together with the server-directed retry-after.
func (c *Client) once(ctx context.Context, serverKey string, method string, path string, body any, out any) (time.Duration, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Server-Key", serverKey)
	if c.globalKey != "" {
		req.Header.Set("Authorization", c.globalKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metricsx.ObservePRCLatency(time.Since(start))
	if err != nil {
		if isTimeout(err) {
			metricsx.IncPRCRequest(path, 0)
			return 0, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return 0, err
	}
	defer resp.Body.Close()
	metricsx.IncPRCRequest(path, resp.StatusCode)

	c.observeHeaders(serverKey, resp.Header)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return parseRetryAfter(raw), ErrRateLimited
	case resp.StatusCode == http.StatusForbidden:
		return 0, ErrInvalidServerKey
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return 0, nil
	}
	// Servers restarting mid-response truncate bodies. A body that does
	// not decode reads as an empty result so poll loops keep running.
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn(ctx, "prc_decode_failed", "undecodable response body treated as empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}
	return 0, nil
}

// observeHeaders syncs the local budget from response headers. The
// remote API is the source of truth, so update unconditionally.
func (c *Client) observeHeaders(serverKey string, h http.Header) {
	rawRemaining := h.Get("X-RateLimit-Remaining")
	rawReset := h.Get("X-RateLimit-Reset")
	if rawRemaining == "" && rawReset == "" {
		return
	}
	remaining, err := strconv.Atoi(rawRemaining)
	if err != nil {
		return
	}
	resetUnix, _ := strconv.ParseInt(rawReset, 10, 64)
	c.limiter.Observe(serverKey, remaining, resetUnix)
}

func parseRetryAfter(body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return defaultRetryAfter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Timeout()
	}
	return false
}
