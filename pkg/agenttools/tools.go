// Package agenttools exposes the directory lifecycle as langchaingo tools so
// an LLM agent can drive the same dispatch path as the HTTP gateway.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

// Executor runs a shaped request. *dispatch.Registry runs it in process and
// *client.Client sends it to a gateway.
type Executor interface {
	Exec(ctx context.Context, req types.DirectoryRequest) (directory.Result, error)
}

var (
	_ tools.Tool = (*CreateDirectoryTool)(nil)
	_ tools.Tool = (*DeleteDirectoryTool)(nil)
)

// CreateDirectoryTool is the create_ad tool.
type CreateDirectoryTool struct {
	Exec Executor
}

func (t *CreateDirectoryTool) Name() string { return "create_ad" }

func (t *CreateDirectoryTool) Description() string {
	return `Create an AWS Managed Microsoft AD in the specified region and VPC.
Input: a JSON object {"aws_region": "us-east-1", "directory_name": "corp.example.com", "vpc_id": "vpc-...", "subnet_ids": ["subnet-...", "subnet-..."]}.
Output: {"status":"created","directory_id":"d-..."} or {"error":"..."}.`
}

func (t *CreateDirectoryTool) Call(ctx context.Context, input string) (string, error) {
	return call(ctx, t.Exec, types.ActionCreate, input)
}

// DeleteDirectoryTool is the delete_ad tool.
type DeleteDirectoryTool struct {
	Exec Executor
}

func (t *DeleteDirectoryTool) Name() string { return "delete_ad" }

func (t *DeleteDirectoryTool) Description() string {
	return `Delete an existing AWS Managed Microsoft AD.
Input: a JSON object {"aws_region": "us-east-1", "directory_id": "d-..."}.
Output: {"status":"deleted","directory_id":"d-..."} or {"error":"..."}.`
}

func (t *DeleteDirectoryTool) Call(ctx context.Context, input string) (string, error) {
	return call(ctx, t.Exec, types.ActionDelete, input)
}

// All returns both lifecycle tools bound to exec.
func All(exec Executor) []tools.Tool {
	return []tools.Tool{
		&CreateDirectoryTool{Exec: exec},
		&DeleteDirectoryTool{Exec: exec},
	}
}

// call returns a Go error only when the agent's input cannot be read; remote
// failures are handed back to the agent as the Result JSON.
func call(ctx context.Context, exec Executor, action types.Action, input string) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(input)), &args); err != nil {
		return "", fmt.Errorf("%s: input must be a JSON object: %w", action, err)
	}
	if args == nil {
		return "", fmt.Errorf("%s: input must be a JSON object", action)
	}
	args[types.FieldAction] = string(action)

	res, err := exec.Exec(ctx, types.ShapeRequest(args))
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("%s: encode result: %w", action, err)
	}
	return string(out), nil
}
