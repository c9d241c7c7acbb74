// Package httpapi implements the remote backend contract over a JSON HTTP
// API. Status codes map onto the sync outcome variants: 200 accepted, 409
// conflict (body carries the authoritative envelope), 422 rejected; any
// transport failure is a network-error outcome, never a fatal error.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orcamento/internal/core"
	"orcamento/internal/remote"
)

// Client talks to the budget backend's entity API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

var _ remote.Backend = (*Client)(nil)

// NewClient creates a client for the given base URL. The token is sent as a
// bearer credential; pass empty for unauthenticated deployments.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) entityURL(ref core.EntityRef) string {
	return fmt.Sprintf("%s/v1/workspaces/%s/%s/%s", c.baseURL, ref.WorkspaceID, ref.Type, ref.ID)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// Push implements remote.Backend.
func (c *Client) Push(ctx context.Context, env remote.Envelope) (remote.Outcome, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return remote.Outcome{}, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, c.entityURL(env.Ref), bytes.NewReader(body))
	if err != nil {
		return remote.Outcome{}, fmt.Errorf("build push request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return remote.Outcome{}, ctx.Err()
		}
		return remote.NetworkError(), nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return remote.Accepted(), nil
	case http.StatusConflict:
		var authoritative remote.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&authoritative); err != nil {
			return remote.Outcome{}, fmt.Errorf("decode conflict body: %w", err)
		}
		return remote.Conflict(authoritative), nil
	case http.StatusUnprocessableEntity, http.StatusForbidden:
		reason := readReason(resp.Body)
		if reason == "" {
			reason = resp.Status
		}
		return remote.Rejected(reason), nil
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return remote.NetworkError(), nil
	default:
		return remote.Rejected(fmt.Sprintf("unexpected status %s", resp.Status)), nil
	}
}

// Fetch implements remote.Backend.
func (c *Client) Fetch(ctx context.Context, ref core.EntityRef) (remote.Envelope, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.entityURL(ref), nil)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return remote.Envelope{}, ctx.Err()
		}
		return remote.Envelope{}, core.ErrNetworkUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var env remote.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return remote.Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	case http.StatusNotFound:
		return remote.Envelope{}, fmt.Errorf("%s: %w", ref, core.ErrNotFound)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return remote.Envelope{}, core.ErrNetworkUnavailable
	default:
		return remote.Envelope{}, fmt.Errorf("fetch %s: unexpected status %s", ref, resp.Status)
	}
}

func readReason(r io.Reader) string {
	var payload struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return ""
	}
	if payload.Reason != "" {
		return payload.Reason
	}
	return payload.Error
}
