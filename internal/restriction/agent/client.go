// Package agent talks to the on-device policy agent, the process that holds
// device-owner authority and performs the platform policy calls.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httpclient"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/tracing"
)

const peer = "device agent"

var tracer = tracing.Tracer("github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction/agent")

// Client implements restriction.Driver and restriction.Authority over the
// agent's HTTP API:
//
//	POST {base}/v1/restrictions/{layer}/apply
//	POST {base}/v1/restrictions/{layer}/remove
//	GET  {base}/v1/authority
//	POST {base}/v1/authority/release
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

func NewClient(baseURL string, hc *httpclient.CircuitBreakerClient, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

type authorityResponse struct {
	Held   bool   `json:"held"`
	Method string `json:"method,omitempty"`
}

func (c *Client) Apply(ctx context.Context, layer string, cmd restriction.Command) error {
	return c.restriction(ctx, layer, "apply", cmd)
}

func (c *Client) Remove(ctx context.Context, layer string, cmd restriction.Command) error {
	return c.restriction(ctx, layer, "remove", cmd)
}

func (c *Client) restriction(ctx context.Context, layer, action string, cmd restriction.Command) (err error) {
	ctx, end := tracing.Start(ctx, tracer, "agent."+action,
		attribute.String("fortress.layer", layer),
		attribute.String("fortress.device_id", cmd.DeviceID),
	)
	defer func() { end(err) }()

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", layer, err)
	}

	u := fmt.Sprintf("%s/v1/restrictions/%s/%s", c.baseURL, url.PathEscape(layer), action)
	resp, err := c.http.Post(ctx, u, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, layer, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, peer)
	}
	_ = resp.Body.Close()

	c.logger.DebugContext(ctx, "agent restriction call succeeded",
		slog.String("layer", layer),
		slog.String("action", action),
	)
	return nil
}

// IsHeld asks the agent whether device-owner authority is currently held.
func (c *Client) IsHeld(ctx context.Context) (held bool, err error) {
	ctx, end := tracing.Start(ctx, tracer, "agent.authority")
	defer func() { end(err) }()

	resp, err := c.http.Get(ctx, c.baseURL+"/v1/authority")
	if err != nil {
		return false, fmt.Errorf("query authority: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return false, httpclient.ParseResponseError(resp, peer)
	}
	defer func() { _ = resp.Body.Close() }()

	var out authorityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode authority response: %w", err)
	}
	return out.Held, nil
}

// Release gives up device-owner authority. After it returns no layer call
// can succeed.
func (c *Client) Release(ctx context.Context) (err error) {
	ctx, end := tracing.Start(ctx, tracer, "agent.authority.release")
	defer func() { end(err) }()

	resp, err := c.http.Post(ctx, c.baseURL+"/v1/authority/release", "application/json", http.NoBody)
	if err != nil {
		return fmt.Errorf("release authority: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, peer)
	}
	_ = resp.Body.Close()
	return nil
}
