// Package client calls the motion engine HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calvinmclean/autostroke"

	"github.com/calvinmclean/babyapi"
)

type Client struct {
	addr   string
	client *babyapi.Client[*config]
}

type config struct {
	// include NilResource so we don't implement Render/Bind which are not needed
	*babyapi.NilResource
	autostroke.Config
}

func (config) GetID() string {
	return ""
}

func New(addr string) *Client {
	addr = strings.TrimSuffix(addr, "/")
	return &Client{
		addr:   addr,
		client: babyapi.NewClient[*config](addr, "/config"),
	}
}

func (c *Client) GetConfig(ctx context.Context) (autostroke.Config, error) {
	var cfg autostroke.Config
	err := c.makeRequest(ctx, http.MethodGet, "/config", nil, http.StatusOK, &cfg)
	return cfg, err
}

// SetConfig replaces the whole configuration and returns it as stored, after clamping
func (c *Client) SetConfig(ctx context.Context, cfg autostroke.Config) (autostroke.Config, error) {
	var out autostroke.Config
	err := c.makeRequest(ctx, http.MethodPost, "/config", cfg, http.StatusOK, &out)
	return out, err
}

func (c *Client) Pause(ctx context.Context, req autostroke.PauseRequest) (autostroke.Config, error) {
	var out autostroke.Config
	err := c.makeRequest(ctx, http.MethodPost, "/paused", req, http.StatusOK, &out)
	return out, err
}

func (c *Client) GetState(ctx context.Context) (autostroke.State, error) {
	var state autostroke.State
	err := c.makeRequest(ctx, http.MethodGet, "/state", nil, http.StatusOK, &state)
	return state, err
}

func (c *Client) ClearFault(ctx context.Context) error {
	return c.makeRequest(ctx, http.MethodPost, "/fault/clear", nil, http.StatusNoContent, nil)
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body any, expectedStatus int, target any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding body: %w", err)
		}

		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, bodyReader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.MakeGenericRequest(req, target)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	if resp.Response.StatusCode != expectedStatus {
		return fmt.Errorf("unexpected status code: %d, response: %v", resp.Response.StatusCode, resp.Body)
	}

	return nil
}
