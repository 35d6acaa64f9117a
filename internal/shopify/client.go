// Package shopify implements the platform-facing adapters: the admin
// GraphQL client, webhook signature verification, and the webhook
// subscription API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/casthq/shophand/internal/core"
)

// Client talks to one shop's admin GraphQL endpoint. It implements
// core.CommerceAPI.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint overrides the derived endpoint URL. Intended for tests.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// NewClient builds an admin API client for one shop. The API version
// announcement happens here, once per client instance.
func NewClient(shop *core.ShopConfig, apiVersion string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if shop == nil || shop.Domain == "" {
		return nil, &core.ConfigError{Reason: "shop has no domain"}
	}
	if shop.AccessToken == "" {
		return nil, &core.ConfigError{Reason: fmt.Sprintf("shop %s has no access token", shop.Domain)}
	}
	if apiVersion == "" {
		return nil, &core.ConfigError{Reason: fmt.Sprintf("shop %s has no api version to pin", shop.Domain)}
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop.Domain, apiVersion),
		token:      shop.AccessToken,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("admin api client ready", "shop", shop.Domain, "api_version", apiVersion)
	return c, nil
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Query executes one GraphQL document against the shop. Platform-reported
// errors, top-level or nested user errors anywhere inside the data, surface
// as RemoteAPIError.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.RemoteAPIError{Message: "admin api request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.RemoteAPIError{Message: "failed to read admin api response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.RemoteAPIError{
			Message: fmt.Sprintf("admin api returned status %d: %s", resp.StatusCode, truncate(raw, 512)),
		}
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &core.RemoteAPIError{Message: "failed to decode admin api response", Err: err}
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		return nil, &core.RemoteAPIError{Message: strings.Join(messages, "; ")}
	}

	if messages := collectUserErrors(envelope.Data); len(messages) > 0 {
		return nil, &core.RemoteAPIError{Message: strings.Join(messages, "; ")}
	}

	return envelope.Data, nil
}

// collectUserErrors walks the decoded data tree for non-empty arrays under
// keys ending in "userErrors" (any casing of the prefix). The platform nests
// these anywhere a mutation appears.
func collectUserErrors(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil
	}
	var messages []string
	walkUserErrors(tree, &messages)
	return messages
}

func walkUserErrors(node any, messages *[]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if isUserErrorsKey(key) {
				items, ok := child.([]any)
				if !ok {
					continue
				}
				for _, item := range items {
					entry, ok := item.(map[string]any)
					if !ok {
						continue
					}
					if msg, ok := entry["message"].(string); ok && msg != "" {
						*messages = append(*messages, msg)
					}
				}
				continue
			}
			walkUserErrors(child, messages)
		}
	case []any:
		for _, item := range v {
			walkUserErrors(item, messages)
		}
	}
}

func isUserErrorsKey(key string) bool {
	return strings.HasSuffix(key, "userErrors") || strings.HasSuffix(key, "UserErrors")
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
