// Package substrate starts worker runs, either on a remote agent gateway or
// in-process.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

// ErrRunRejected is returned when the substrate refuses to start a run.
var ErrRunRejected = errors.New("run rejected by substrate")

// HTTPClient drives a remote agent gateway. Completions come back through
// the gateway calling the run-completion webhook.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient creates a client for endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type spawnRequest struct {
	Message        string `json:"message"`
	SessionKey     string `json:"session_key"`
	IdempotencyKey string `json:"idempotency_key"`
	AgentID        string `json:"agent_id"`
	Cleanup        string `json:"cleanup,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type spawnResponse struct {
	RunID string `json:"run_id"`
}

type latestResponse struct {
	Text string `json:"text"`
}

// SpawnRun posts the run to the gateway.
func (c *HTTPClient) SpawnRun(ctx context.Context, req mission.SpawnRequest) (mission.SpawnResult, error) {
	body, err := json.Marshal(spawnRequest{
		Message:        req.Message,
		SessionKey:     req.SessionKey,
		IdempotencyKey: req.IdempotencyKey,
		AgentID:        req.AgentID,
		Cleanup:        req.Cleanup,
		TimeoutSeconds: int(req.Timeout / time.Second),
	})
	if err != nil {
		return mission.SpawnResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/runs", bytes.NewReader(body))
	if err != nil {
		return mission.SpawnResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return mission.SpawnResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mission.SpawnResult{}, fmt.Errorf("%w: status %d: %s", ErrRunRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out spawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return mission.SpawnResult{}, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("run spawned", zap.String("run", out.RunID), zap.String("session", req.SessionKey))
	return mission.SpawnResult{RunID: out.RunID}, nil
}

// LatestReply fetches the last assistant text of a session.
func (c *HTTPClient) LatestReply(ctx context.Context, sessionKey string) (string, error) {
	u := c.endpoint + "/sessions/" + url.PathEscape(sessionKey) + "/latest"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("latest reply %s: status %d", sessionKey, resp.StatusCode)
	}
	var out latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}
