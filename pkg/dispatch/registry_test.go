package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

type call struct {
	op, region, name, vpc, id string
	subnets                   []string
}

type recordingLifecycle struct {
	mu    sync.Mutex
	calls []call
}

func (l *recordingLifecycle) CreateDirectory(_ context.Context, region, name, vpcID string, subnetIDs []string) directory.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{op: "create", region: region, name: name, vpc: vpcID, subnets: subnetIDs})
	if region == "" {
		return directory.Failed(errors.New("invalid region"))
	}
	return directory.Succeeded(directory.StatusCreated, "d-new")
}

func (l *recordingLifecycle) DeleteDirectory(_ context.Context, region, directoryID string) directory.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{op: "delete", region: region, id: directoryID})
	return directory.Succeeded(directory.StatusDeleted, directoryID)
}

func TestRegistry_RoutesCreate(t *testing.T) {
	lc := &recordingLifecycle{}
	reg := ForDirectory(lc)

	res, err := reg.Exec(context.Background(), types.ShapeRequest(map[string]any{
		"action":         "create",
		"aws_region":     "us-east-1",
		"vpc_id":         "vpc-123",
		"subnet_ids":     []any{"subnet-1", "subnet-2"},
		"directory_name": "Test AD",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() || res.Status != directory.StatusCreated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(lc.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(lc.calls))
	}
	c := lc.calls[0]
	if c.op != "create" || c.region != "us-east-1" || c.name != "Test AD" || c.vpc != "vpc-123" || strings.Join(c.subnets, ",") != "subnet-1,subnet-2" {
		t.Errorf("unexpected call: %+v", c)
	}
}

func TestRegistry_RoutesDelete(t *testing.T) {
	lc := &recordingLifecycle{}
	reg := ForDirectory(lc)

	res, err := reg.Exec(context.Background(), types.ShapeRequest(map[string]any{
		"action": " Delete ", "aws_region": "eu-west-1", "directory_id": "d-xyz",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DirectoryID != "d-xyz" || lc.calls[0].op != "delete" || lc.calls[0].region != "eu-west-1" {
		t.Errorf("unexpected dispatch: res=%+v calls=%+v", res, lc.calls)
	}
}

func TestRegistry_DeferredValidation(t *testing.T) {
	lc := &recordingLifecycle{}
	reg := ForDirectory(lc)

	res, err := reg.Exec(context.Background(), types.ShapeRequest(map[string]any{"action": "create"}))
	if err != nil {
		t.Fatalf("missing fields must not be rejected before the call: %v", err)
	}
	if len(lc.calls) != 1 {
		t.Fatal("expected the lifecycle operation to be invoked")
	}
	if res.OK() {
		t.Error("expected the remote failure to surface")
	}
}

func TestRegistry_MistypedFieldsFailWithoutRemoteCall(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"subnets as a lone string", map[string]any{
			"action": "create", "aws_region": "us-east-1", "vpc_id": "vpc-1",
			"directory_name": "Corp", "subnet_ids": "subnet-1",
		}, types.FieldSubnetIDs},
		{"non-string subnet element", map[string]any{
			"action": "create", "aws_region": "us-east-1", "vpc_id": "vpc-1",
			"directory_name": "Corp", "subnet_ids": []any{123.0, "subnet-2"},
		}, types.FieldSubnetIDs},
		{"numeric region on create", map[string]any{
			"action": "create", "aws_region": 42.0, "vpc_id": "vpc-1",
			"directory_name": "Corp", "subnet_ids": []any{"subnet-1"},
		}, types.FieldRegion},
		{"numeric region on delete", map[string]any{
			"action": "delete", "aws_region": 42.0, "directory_id": "d-1",
		}, types.FieldRegion},
		{"object directory id", map[string]any{
			"action": "delete", "aws_region": "us-east-1", "directory_id": map[string]any{"id": "d-1"},
		}, types.FieldDirectoryID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &recordingLifecycle{}
			res, err := ForDirectory(lc).Exec(context.Background(), types.ShapeRequest(tt.body))
			if err != nil {
				t.Fatalf("mistyped fields are a result, not a dispatch error: %v", err)
			}
			if res.OK() || res.Kind != directory.KindInvalidArgument {
				t.Errorf("expected invalid_argument failure, got %+v", res)
			}
			if !strings.Contains(res.Error, tt.field) {
				t.Errorf("expected the failure to name %s, got %q", tt.field, res.Error)
			}
			if len(lc.calls) != 0 {
				t.Errorf("remote must not be called with repaired arguments: %+v", lc.calls)
			}
		})
	}
}

func TestRegistry_UnsupportedAction(t *testing.T) {
	lc := &recordingLifecycle{}
	reg := ForDirectory(lc)

	for _, action := range []any{"", "resize", nil, 12} {
		_, err := reg.Exec(context.Background(), types.ShapeRequest(map[string]any{"action": action, "directory_id": "d-1"}))
		if !errors.Is(err, ErrUnsupportedAction) {
			t.Errorf("action %#v: expected ErrUnsupportedAction, got %v", action, err)
		}
	}
	if len(lc.calls) != 0 {
		t.Errorf("nothing should be executed, got %+v", lc.calls)
	}
}

func TestRegistry_Actions(t *testing.T) {
	got := ForDirectory(&recordingLifecycle{}).Actions()
	if len(got) != 2 || got[0] != types.ActionCreate || got[1] != types.ActionDelete {
		t.Errorf("Actions = %v", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	lc := &recordingLifecycle{}
	reg := ForDirectory(lc)
	req := types.ShapeRequest(map[string]any{"action": "delete", "aws_region": "us-east-1", "directory_id": "d-1"})

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, _ = reg.Exec(context.Background(), req)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if len(lc.calls) != 10 {
		t.Errorf("expected 10 calls, got %d", len(lc.calls))
	}
}
