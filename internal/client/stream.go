package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/safesh/safesh/pkg/types"
)

// StreamEvents opens the server-wide SSE firehose. The caller owns the
// returned body and closes it to stop the stream.
func (c *Client) StreamEvents(ctx context.Context, typeFilter []string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/v1/events/stream", typeFilter)
}

// StreamSessionEvents opens the SSE stream scoped to one session.
func (c *Client) StreamSessionEvents(ctx context.Context, sessionID string, typeFilter []string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/events", typeFilter)
}

func (c *Client) openStream(ctx context.Context, path string, typeFilter []string) (io.ReadCloser, error) {
	u := c.baseURL + path
	if len(typeFilter) > 0 {
		q := url.Values{}
		q.Set("type", strings.Join(typeFilter, ","))
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, &HTTPError{
			Method:     http.MethodGet,
			Path:       path,
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return resp.Body, nil
}

// DecodeEventStream reads SSE data lines from r and hands each decoded event
// to fn. It returns when the stream ends, fn errors, or a read fails. The
// initial ready frame and undecodable lines are skipped.
func DecodeEventStream(r io.Reader, fn func(types.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		if ev.Type == "" {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
