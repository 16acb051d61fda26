// Package dispatch maps a shaped request onto exactly one lifecycle
// operation. It is the deterministic stand-in for an agent deciding which
// tool to call.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

// Handler executes one action. Remote failures come back inside the Result.
type Handler func(ctx context.Context, req types.DirectoryRequest) directory.Result

// Lifecycle is what the directory handlers need from directory.Service.
type Lifecycle interface {
	CreateDirectory(ctx context.Context, region, name, vpcID string, subnetIDs []string) directory.Result
	DeleteDirectory(ctx context.Context, region, directoryID string) directory.Result
}

// ErrUnsupportedAction is returned by Exec when no handler is registered.
var ErrUnsupportedAction = errors.New("unsupported action")

// UnsupportedActionError names the rejected action.
type UnsupportedActionError struct {
	Action types.Action
}

func (e *UnsupportedActionError) Error() string {
	if e.Action == "" {
		return "missing action: expected one of create, delete"
	}
	return fmt.Sprintf("unsupported action %q: expected one of create, delete", e.Action)
}

func (e *UnsupportedActionError) Unwrap() error { return ErrUnsupportedAction }
