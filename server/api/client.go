package api

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

	"github.com/gammadia/standby/catalog"
	"github.com/gammadia/standby/lifecycle"
)

// Client talks to the admin API of a standby daemon.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a client for the daemon at address, which is either a
// base URL or a bare host:port. A nil httpClient means http.DefaultClient.
func NewClient(address string, httpClient *http.Client) (*Client, error) {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	base, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid address '%s': %w", address, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}, nil
}

func (c *Client) Ping(ctx context.Context) (Ping, error) {
	var ping Ping
	err := c.do(ctx, http.MethodGet, "/v1/ping", nil, &ping)
	return ping, err
}

func (c *Client) List(ctx context.Context) ([]lifecycle.Metadata, error) {
	var nodes []lifecycle.Metadata
	err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &nodes)
	return nodes, err
}

func (c *Client) Get(ctx context.Context, id string) (lifecycle.Metadata, error) {
	var node lifecycle.Metadata
	err := c.do(ctx, http.MethodGet, "/v1/nodes/"+url.PathEscape(id), nil, &node)
	return node, err
}

func (c *Client) Register(ctx context.Context, spec catalog.NodeSpec) (lifecycle.Metadata, error) {
	var node lifecycle.Metadata
	err := c.do(ctx, http.MethodPost, "/v1/nodes", spec, &node)
	return node, err
}

func (c *Client) Provision(ctx context.Context, id string) (lifecycle.Endpoint, error) {
	var endpoint lifecycle.Endpoint
	err := c.do(ctx, http.MethodPost, "/v1/nodes/"+url.PathEscape(id)+"/provision", nil, &endpoint)
	return endpoint, err
}

func (c *Client) Terminate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+url.PathEscape(id)+"/terminate", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = resp.Status
			apiErr.Kind = lifecycle.ErrorKindInternal
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
