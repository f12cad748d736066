// Package client is the HTTP client for the safesh server API, used by the
// CLI commands that talk to a running server instead of building the stack
// in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/pkg/types"
)

// Client talks to a safesh server over its loopback HTTP API.
//
// The transport carries no global timeout: Exec legitimately blocks for as
// long as a confirmation stays open on the other side. Callers bound
// individual requests with ctx.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// HTTPError is a non-2xx response that did not carry a structured result.
type HTTPError struct {
	Method     string
	Path       string
	Status     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, body)
}

// Health checks that a server answers on the base URL.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) CreateSession(ctx context.Context) (types.Session, error) {
	return c.createSession(ctx, types.CreateSessionRequest{})
}

func (c *Client) CreateSessionWithID(ctx context.Context, id string) (types.Session, error) {
	return c.createSession(ctx, types.CreateSessionRequest{ID: id})
}

func (c *Client) createSession(ctx context.Context, req types.CreateSessionRequest) (types.Session, error) {
	var out types.Session
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", nil, req, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]types.Session, error) {
	var out []types.Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (types.Session, error) {
	var out types.Session
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) DestroySession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) SessionHistory(ctx context.Context, id string) ([]string, error) {
	var out struct {
		History []string `json:"history"`
	}
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/history"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// Exec runs one command in the session. Denials, cancellations and failed
// commands come back as a result with Error set and a nil error: the server
// derives the HTTP status from the result and sends the full result as the
// body either way. A transport failure or an unstructured error body yields
// an error instead.
func (c *Client) Exec(ctx context.Context, sessionID string, req types.ExecRequest) (types.ExecutionResult, error) {
	var res types.ExecutionResult
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/exec"

	b, err := json.Marshal(req)
	if err != nil {
		return res, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return res, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err == nil {
		if resp.StatusCode < 300 || res.Error != nil {
			return res, nil
		}
	}
	return types.ExecutionResult{}, &HTTPError{
		Method:     http.MethodPost,
		Path:       path,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
	}
}

// Interpret translates one line without executing it.
func (c *Client) Interpret(ctx context.Context, sessionID, text string) (types.InterpretResponse, error) {
	var out types.InterpretResponse
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/interpret"
	err := c.doJSON(ctx, http.MethodPost, path, nil, types.InterpretRequest{Text: text}, &out)
	return out, err
}

// OutputChunk is one page of a command's recorded output.
type OutputChunk struct {
	CommandID  string `json:"command_id"`
	Offset     int64  `json:"offset"`
	Limit      int64  `json:"limit"`
	TotalBytes int64  `json:"total_bytes"`
	Truncated  bool   `json:"truncated"`
	Data       string `json:"data"`
	HasMore    bool   `json:"has_more"`
}

func (c *Client) OutputChunk(ctx context.Context, sessionID, commandID string, offset, limit int64) (OutputChunk, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("limit", strconv.FormatInt(limit, 10))
	var out OutputChunk
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/output/" + url.PathEscape(commandID)
	err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out)
	return out, err
}

func (c *Client) PendingConfirmations(ctx context.Context) ([]confirm.Request, error) {
	var out []confirm.Request
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/confirmations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveConfirmation answers a pending confirmation; decision is "approve"
// or "deny".
func (c *Client) ResolveConfirmation(ctx context.Context, id, decision, reason string) error {
	body := map[string]any{"decision": decision, "reason": reason}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/confirmations/"+url.PathEscape(id), nil, body, nil)
}

func (c *Client) SearchEvents(ctx context.Context, q url.Values) ([]types.Event, error) {
	var out []types.Event
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBin(ctx context.Context) ([]types.RecycleEntry, error) {
	var out []types.RecycleEntry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/bin", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBinEntry(ctx context.Context, id string) (types.RecycleEntry, error) {
	var out types.RecycleEntry
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/bin/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// RestoreResult reports where a restored entry landed.
type RestoreResult struct {
	ID         string `json:"id"`
	RestoredTo string `json:"restored_to"`
}

func (c *Client) RestoreBinEntry(ctx context.Context, id string, req types.RestoreRequest) (RestoreResult, error) {
	var out RestoreResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/bin/"+url.PathEscape(id)+"/restore", nil, req, &out)
	return out, err
}

// PurgeRequest selects which bin entries to drop permanently. At least one
// selector must be set.
type PurgeRequest struct {
	All       bool   `json:"all,omitempty"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	OlderThan string `json:"older_than,omitempty"`
}

func (c *Client) PurgeBin(ctx context.Context, req PurgeRequest) (int, error) {
	var out struct {
		Purged int `json:"purged"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/bin/purge", nil, req, &out)
	return out.Purged, err
}

// BinUsage summarizes the recycle bin footprint.
type BinUsage struct {
	TotalBytes int64 `json:"total_bytes"`
	Entries    int   `json:"entries"`
}

func (c *Client) BinUsage(ctx context.Context) (BinUsage, error) {
	var out BinUsage
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/bin/usage", nil, nil, &out)
	return out, err
}

// MonitorQuery selects the optional snapshot sections.
type MonitorQuery struct {
	Processes int
	Disk      bool
	Network   bool
}

func (c *Client) Monitor(ctx context.Context, q MonitorQuery) (monitor.Snapshot, error) {
	v := url.Values{}
	if q.Processes > 0 {
		v.Set("processes", strconv.Itoa(q.Processes))
	}
	if q.Disk {
		v.Set("disk", "true")
	}
	if q.Network {
		v.Set("network", "true")
	}
	var out monitor.Snapshot
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/monitor", v, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &HTTPError{
			Method:     method,
			Path:       path,
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
