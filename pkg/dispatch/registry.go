package dispatch

import (
	"context"
	"sort"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

// Registry maps actions to handlers. Register everything before serving;
// Exec only reads the map.
type Registry struct {
	routes map[types.Action]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[types.Action]Handler)}
}

// ForDirectory returns a registry with create and delete bound to svc.
func ForDirectory(svc Lifecycle) *Registry {
	r := NewRegistry()
	r.Register(types.ActionCreate, createHandler(svc))
	r.Register(types.ActionDelete, deleteHandler(svc))
	return r
}

// Register maps an action to a handler.
func (r *Registry) Register(action types.Action, h Handler) {
	r.routes[action] = h
}

// Actions lists the registered actions in sorted order.
func (r *Registry) Actions() []types.Action {
	out := make([]types.Action, 0, len(r.routes))
	for a := range r.routes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Exec runs the handler registered for req.Action. Unknown or empty actions
// are rejected with an *UnsupportedActionError and nothing is executed.
func (r *Registry) Exec(ctx context.Context, req types.DirectoryRequest) (directory.Result, error) {
	h, ok := r.routes[req.Action]
	if !ok {
		return directory.Result{}, &UnsupportedActionError{Action: req.Action}
	}
	return h(ctx, req), nil
}

// args reads a request's fields for a remote call. Absent fields become zero
// values and fail remotely; the first mistyped field is kept in err and
// nothing is sent.
type args struct {
	req types.DirectoryRequest
	err error
}

func (a *args) str(key string) string {
	if a.err != nil {
		return ""
	}
	s, err := a.req.StringField(key)
	a.err = err
	return s
}

func (a *args) list(key string) []string {
	if a.err != nil {
		return nil
	}
	ss, err := a.req.StringList(key)
	a.err = err
	return ss
}

func createHandler(svc Lifecycle) Handler {
	return func(ctx context.Context, req types.DirectoryRequest) directory.Result {
		a := &args{req: req}
		region := a.str(types.FieldRegion)
		name := a.str(types.FieldDirectoryName)
		vpcID := a.str(types.FieldVPCID)
		subnetIDs := a.list(types.FieldSubnetIDs)
		if a.err != nil {
			return directory.Failed(a.err)
		}
		return svc.CreateDirectory(ctx, region, name, vpcID, subnetIDs)
	}
}

func deleteHandler(svc Lifecycle) Handler {
	return func(ctx context.Context, req types.DirectoryRequest) directory.Result {
		a := &args{req: req}
		region := a.str(types.FieldRegion)
		directoryID := a.str(types.FieldDirectoryID)
		if a.err != nil {
			return directory.Failed(a.err)
		}
		return svc.DeleteDirectory(ctx, region, directoryID)
	}
}
