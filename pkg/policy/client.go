// Package policy asks Open Policy Agent whether a directory lifecycle call
// may proceed.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bturcanu/adgateway/pkg/types"
)

// DecisionPath is the OPA data document queried for every call.
const DecisionPath = "/v1/data/adgateway/run"

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Input is what the policy sees. The administrator password is never part of
// a request and so never reaches OPA.
type Input struct {
	CallerID      string       `json:"caller_id,omitempty"`
	Action        types.Action `json:"action"`
	Region        string       `json:"aws_region"`
	DirectoryName string       `json:"directory_name,omitempty"`
	DirectoryID   string       `json:"directory_id,omitempty"`
	VPCID         string       `json:"vpc_id,omitempty"`
	SubnetIDs     []string     `json:"subnet_ids,omitempty"`
}

// InputFor builds the policy input for a shaped request.
func InputFor(req types.DirectoryRequest, callerID string) Input {
	return Input{
		CallerID:      callerID,
		Action:        req.Action,
		Region:        req.Region(),
		DirectoryName: req.String(types.FieldDirectoryName),
		DirectoryID:   req.String(types.FieldDirectoryID),
		VPCID:         req.String(types.FieldVPCID),
		SubnetIDs:     req.Strings(types.FieldSubnetIDs),
	}
}

type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Allowed reports whether the call may be dispatched.
func (r *Result) Allowed() bool {
	return r != nil && r.Decision == DecisionAllow
}

// Client calls OPA over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new OPA policy client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type opaRequest struct {
	Input Input `json:"input"`
}

type opaResponse struct {
	Result Result `json:"result"`
}

// Evaluate sends input to OPA and returns the decision. Anything other than
// an explicit allow is a deny.
func (c *Client) Evaluate(ctx context.Context, input Input) (*Result, error) {
	body, err := json.Marshal(opaRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("policy marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+DecisionPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("policy new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("policy OPA returned %d: %s", resp.StatusCode, string(b))
	}

	var opaResp opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&opaResp); err != nil {
		return nil, fmt.Errorf("policy decode response: %w", err)
	}

	res := opaResp.Result
	if res.Decision != DecisionAllow {
		res.Decision = DecisionDeny
	}
	return &res, nil
}
