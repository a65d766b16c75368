package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// AgentClient drives one agent's HTTP API.
type AgentClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAgentClient creates a client for the agent at ip:port.
func NewAgentClient(ip string, port int, timeout time.Duration) *AgentClient {
	return &AgentClient{
		baseURL: fmt.Sprintf("http://%s:%d", ip, port),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs a bearer token for subsequent requests.
func (c *AgentClient) SetToken(token string) { c.token = token }

// Token returns the current bearer token.
func (c *AgentClient) Token() string { return c.token }

// apiError wraps the agent's error envelope so callers can classify it.
type apiError struct {
	StatusCode int
	Tag        protocol.ErrorTag
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("agent returned %d %s: %s", e.StatusCode, e.Tag, e.Message)
}

func (c *AgentClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope protocol.APIError
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return &apiError{StatusCode: resp.StatusCode, Tag: envelope.Error, Message: envelope.Message}
		}
		return &apiError{StatusCode: resp.StatusCode, Tag: protocol.ErrInternal,
			Message: fmt.Sprintf("unexpected response: %s", bytes.TrimSpace(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Health probes the liveness endpoint.
func (c *AgentClient) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

// CheckAuth asks whether the agent requires authentication.
func (c *AgentClient) CheckAuth(ctx context.Context) (bool, error) {
	var out protocol.AuthCheckResponse
	err := c.do(ctx, http.MethodGet, "/api/auth/check", nil, &out)
	return out.RequiresAuth, err
}

// Authenticate runs the full challenge-response handshake with the given
// password and installs the returned token on success.
func (c *AgentClient) Authenticate(ctx context.Context, password string) (protocol.TokenResponse, error) {
	var ch protocol.ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/challenge", nil, &ch); err != nil {
		return protocol.TokenResponse{}, err
	}

	verifier, err := protocol.DeriveVerifier(password, ch.HashParams)
	if err != nil {
		return protocol.TokenResponse{}, fmt.Errorf("derive handshake key: %w", err)
	}

	var tok protocol.TokenResponse
	err = c.do(ctx, http.MethodPost, "/api/auth/verify", protocol.VerifyRequest{
		Nonce:    ch.Nonce,
		Response: protocol.ComputeResponse(verifier, ch.Nonce),
	}, &tok)
	if err != nil {
		return protocol.TokenResponse{}, err
	}

	c.token = tok.Token
	return tok, nil
}

// Logout revokes the current token.
func (c *AgentClient) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.token = ""
	return err
}

// SystemInfo fetches the agent's host information.
func (c *AgentClient) SystemInfo(ctx context.Context) (protocol.SystemInfo, error) {
	var out protocol.SystemInfo
	err := c.do(ctx, http.MethodGet, "/api/system/info", nil, &out)
	return out, err
}

// Execute runs a command on the agent.
func (c *AgentClient) Execute(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResult, error) {
	var out protocol.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/command/execute", req, &out)
	return out, err
}

// SystemAction invokes one of the /api/system/{action} shortcuts.
func (c *AgentClient) SystemAction(ctx context.Context, action string) (protocol.CommandResult, error) {
	var out protocol.CommandResult
	err := c.do(ctx, http.MethodPost, "/api/system/"+action, nil, &out)
	return out, err
}

// Logs fetches the agent's recent log tail.
func (c *AgentClient) Logs(ctx context.Context, limit int) ([]protocol.LogRecordWire, error) {
	var out struct {
		Logs []protocol.LogRecordWire `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/logs?limit=%d", limit), nil, &out)
	return out.Logs, err
}

// CheckAgentVersion reports whether an advertised agent version satisfies
// the configured constraint. Unparseable versions fail the gate.
func CheckAgentVersion(version, constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("bad version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("agent reports unparseable version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("agent version %s outside supported range %s", version, constraint)
	}
	return nil
}
