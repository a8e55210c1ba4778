package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mithrel/upbridge/pkg/api"
)

// Client talks to a running daemon's status server.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a client for addr, which may omit the scheme.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{Base: base, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	return out, c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
}

func (c *Client) Registrations(ctx context.Context) ([]Registration, error) {
	var out []Registration
	return out, c.do(ctx, http.MethodGet, "/v1/registrations", nil, &out)
}

func (c *Client) Host(ctx context.Context) (HostInfo, error) {
	var out HostInfo
	return out, c.do(ctx, http.MethodGet, "/v1/host", nil, &out)
}

func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	var out PublishResponse
	return out, c.do(ctx, http.MethodPost, "/v1/publish", req, &out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return api.NewStatus(api.CodeUnavailable, "daemon unreachable: %v", err).Err()
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var er ErrorResponse
		if json.Unmarshal(b, &er) == nil && er.Code != "" {
			return api.Status{Code: codeFromName(er.Code), Message: er.Message}.Err()
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.Unmarshal(b, out)
}

func codeFromName(name string) api.Code {
	for c := api.CodeOK; c <= api.CodeUnauthenticated; c++ {
		if c.String() == name {
			return c
		}
	}
	return api.CodeUnknown
}
