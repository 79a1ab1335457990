package opencti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vigilintel/internal/config"
	"vigilintel/internal/domain"
	"vigilintel/internal/ports"
)

// Client talks to the OpenCTI ingest API: bundle imports plus the work
// registry that groups one connector pass.
type Client struct {
	baseURL     string
	token       string
	connectorID string
	httpClient  *http.Client
}

var _ ports.BundleSink = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.OpenCTIConfig) (*Client, error) {
	if cfg.URL == "" || cfg.ConnectorID == "" {
		return nil, fmt.Errorf("opencti client misconfigured: url and connectorId are required")
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		token:       cfg.Token,
		connectorID: cfg.ConnectorID,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// InitiateWork registers a new work for this pass and returns its identifier.
func (c *Client) InitiateWork(ctx context.Context, friendlyName string) (string, error) {
	payload := map[string]any{
		"connector_id":  c.connectorID,
		"friendly_name": friendlyName,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/works", payload, &resp); err != nil {
		return "", fmt.Errorf("initiate work: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("initiate work: platform returned no work id")
	}

	return resp.ID, nil
}

// SendBundle forwards one serialized STIX bundle under the given work.
// Existing objects are updated in place on the platform side.
func (c *Client) SendBundle(ctx context.Context, workID string, bundle domain.Bundle) error {
	serialized, err := bundle.Serialize()
	if err != nil {
		return fmt.Errorf("send bundle: %w", err)
	}

	payload := map[string]any{
		"connector_id": c.connectorID,
		"work_id":      workID,
		"update":       true,
		"bundle":       json.RawMessage(serialized),
	}

	if err := c.post(ctx, "/bundles", payload, nil); err != nil {
		return fmt.Errorf("send bundle: %w", err)
	}
	return nil
}

// FinishWork marks the work as processed with a human-readable summary.
func (c *Client) FinishWork(ctx context.Context, workID, message string) error {
	payload := map[string]any{
		"message": message,
	}

	if err := c.post(ctx, "/works/"+workID+"/processed", payload, nil); err != nil {
		return fmt.Errorf("finish work %s: %w", workID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("opencti error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
