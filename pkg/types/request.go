// Package types defines the request shape accepted by the gateway and the
// errors it reports to callers.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────────────
// Actions and field keys
// ──────────────────────────────────────────────────────────────────────────────

type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

const (
	FieldAction        = "action"
	FieldRegion        = "aws_region"
	FieldVPCID         = "vpc_id"
	FieldSubnetIDs     = "subnet_ids"
	FieldDirectoryName = "directory_name"
	FieldDirectoryID   = "directory_id"
)

// actionFields lists the keys copied from the inbound payload per action.
var actionFields = map[Action][]string{
	ActionCreate: {FieldRegion, FieldVPCID, FieldSubnetIDs, FieldDirectoryName},
	ActionDelete: {FieldRegion, FieldDirectoryID},
}

// Known reports whether a is one of the recognised lifecycle actions.
func (a Action) Known() bool {
	_, ok := actionFields[a]
	return ok
}

// NormalizeAction trims and lowercases v. Anything that is not a string maps
// to the empty action.
func NormalizeAction(v any) Action {
	s, _ := v.(string)
	return Action(strings.ToLower(strings.TrimSpace(s)))
}

// ──────────────────────────────────────────────────────────────────────────────
// DirectoryRequest: the shaped form of a /run payload.
// ──────────────────────────────────────────────────────────────────────────────

// DirectoryRequest carries the normalized action and the action-specific
// fields exactly as they arrived. Fields only holds keys that were present in
// the input; nothing is defaulted or coerced here.
type DirectoryRequest struct {
	Action Action
	Fields map[string]any
}

// ShapeRequest converts an untyped JSON object into a DirectoryRequest. It
// never fails: missing or mistyped values are left for the lifecycle
// operation that consumes them.
func ShapeRequest(data map[string]any) DirectoryRequest {
	req := DirectoryRequest{Action: NormalizeAction(data[FieldAction])}
	keys, ok := actionFields[req.Action]
	if !ok {
		return req
	}
	for _, k := range keys {
		v, present := data[k]
		if !present {
			continue
		}
		if req.Fields == nil {
			req.Fields = make(map[string]any, len(keys))
		}
		req.Fields[k] = v
	}
	return req
}

// Has reports whether key was present in the inbound payload.
func (r DirectoryRequest) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// String returns the field as a string, or "" when absent or not a string.
func (r DirectoryRequest) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Strings returns the field as a string slice, or nil when it is absent or
// not a list made only of strings.
func (r DirectoryRequest) Strings(key string) []string {
	ss, _ := r.StringList(key)
	return ss
}

// StringField returns the field for a remote call. An absent field is ""; a
// field present with any other type is a *ValidationError.
func (r DirectoryRequest) StringField(key string) (string, error) {
	v, ok := r.Fields[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: key, Reason: fmt.Sprintf("must be a string, got %s", jsonType(v))}
	}
	return s, nil
}

// StringList returns the field for a remote call. An absent field is nil; a
// present field must be a list whose every element is a string.
func (r DirectoryRequest) StringList(key string) ([]string, error) {
	v, ok := r.Fields[key]
	if !ok {
		return nil, nil
	}
	switch v := v.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("element %d must be a string, got %s", i, jsonType(item))}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("must be a list of strings, got %s", jsonType(v))}
	}
}

// jsonType names the JSON type of a decoded value.
func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Region is shorthand for String(FieldRegion).
func (r DirectoryRequest) Region() string {
	return r.String(FieldRegion)
}

// MarshalJSON renders the request flat, the way it was received.
func (r DirectoryRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldAction] = string(r.Action)
	return json.Marshal(out)
}

// Validate is the strict check applied before dispatch when the service runs
// with strict validation. The default path defers these failures to the
// remote call.
func (r DirectoryRequest) Validate() error {
	if r.Action == "" {
		return &ValidationError{Field: FieldAction, Reason: "required"}
	}
	if !r.Action.Known() {
		return &ValidationError{Field: FieldAction, Reason: fmt.Sprintf("unsupported value %q", r.Action)}
	}

	required := []string{FieldRegion}
	switch r.Action {
	case ActionCreate:
		required = append(required, FieldVPCID, FieldDirectoryName)
	case ActionDelete:
		required = append(required, FieldDirectoryID)
	}
	for _, key := range required {
		v, err := r.StringField(key)
		if err != nil {
			return err
		}
		if v == "" {
			return &ValidationError{Field: key, Reason: "required"}
		}
	}

	if r.Action == ActionCreate {
		subnets, err := r.StringList(FieldSubnetIDs)
		if err != nil {
			return err
		}
		if len(subnets) == 0 {
			return &ValidationError{Field: FieldSubnetIDs, Reason: "must be a non-empty list"}
		}
		for i, s := range subnets {
			if s == "" {
				return &ValidationError{Field: FieldSubnetIDs, Reason: fmt.Sprintf("element %d must be a non-empty string", i)}
			}
		}
	}
	return nil
}
