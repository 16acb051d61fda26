// Package client is a Go client for the directory gateway.
package client

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
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

const maxResponseBytes = 1 << 20

// RunError is a top-level /run failure: the request never reached a lifecycle
// operation (bad input, unsupported action, rejected by the gateway).
type RunError struct {
	Message string
}

func (e *RunError) Error() string { return e.Message }

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run posts a raw request body to /run. Remote failures come back as a
// Result with Error set and a nil error; gateway-level rejections come back
// as *RunError or *types.APIError.
func (c *Client) Run(ctx context.Context, body map[string]any) (*directory.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/run", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res directory.Result
	if err := c.doJSON(req, &res); err != nil {
		return nil, err
	}
	if res.Status == "" && strings.HasPrefix(res.Error, types.RunErrorPrefix) {
		return nil, &RunError{Message: res.Error}
	}
	return &res, nil
}

// Exec sends a shaped request through /run, letting a Client stand in for an
// in-process dispatcher.
func (c *Client) Exec(ctx context.Context, req types.DirectoryRequest) (directory.Result, error) {
	body := make(map[string]any, len(req.Fields)+1)
	for k, v := range req.Fields {
		body[k] = v
	}
	body[types.FieldAction] = string(req.Action)
	res, err := c.Run(ctx, body)
	if err != nil {
		return directory.Result{}, err
	}
	return *res, nil
}

// CreateDirectory requests a new directory.
func (c *Client) CreateDirectory(ctx context.Context, region, name, vpcID string, subnetIDs []string) (*directory.Result, error) {
	return c.Run(ctx, map[string]any{
		types.FieldAction:        string(types.ActionCreate),
		types.FieldRegion:        region,
		types.FieldDirectoryName: name,
		types.FieldVPCID:         vpcID,
		types.FieldSubnetIDs:     subnetIDs,
	})
}

// DeleteDirectory requests teardown of directoryID.
func (c *Client) DeleteDirectory(ctx context.Context, region, directoryID string) (*directory.Result, error) {
	return c.Run(ctx, map[string]any{
		types.FieldAction:      string(types.ActionDelete),
		types.FieldRegion:      region,
		types.FieldDirectoryID: directoryID,
	})
}

// Describe fetches the provisioning state of directoryID. An unknown id
// yields an error wrapping directory.ErrNotFound.
func (c *Client) Describe(ctx context.Context, region, directoryID string) (*directory.Description, error) {
	path := "/v1/directories/" + url.PathEscape(directoryID)
	if region != "" {
		path += "?" + url.Values{types.FieldRegion: {region}}.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, http.NoBody)
	if err != nil {
		return nil, err
	}
	var desc directory.Description
	if err := c.doJSON(req, &desc); err != nil {
		var apiErr *types.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, apiErr.Message)
		}
		return nil, err
	}
	return &desc, nil
}

// WaitForStage polls Describe until the directory reaches stage (for example
// "Active") or a terminal failure stage, or ctx ends.
func (c *Client) WaitForStage(ctx context.Context, region, directoryID, stage string, pollEvery time.Duration) (*directory.Description, error) {
	t := time.NewTicker(pollEvery)
	defer t.Stop()

	for {
		desc, err := c.Describe(ctx, region, directoryID)
		if err != nil && !errors.Is(err, directory.ErrNotFound) {
			return nil, err
		}
		if desc != nil {
			if desc.Stage == stage {
				return desc, nil
			}
			if desc.Stage == "Failed" || desc.Stage == "Impaired" {
				return desc, fmt.Errorf("directory %s entered stage %s: %s", directoryID, desc.Stage, desc.StageReason)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			apiErr.HTTPCode = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
