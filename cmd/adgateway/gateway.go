package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bturcanu/adgateway/pkg/audit"
	"github.com/bturcanu/adgateway/pkg/auth"
	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/dispatch"
	"github.com/bturcanu/adgateway/pkg/notify"
	"github.com/bturcanu/adgateway/pkg/policy"
	"github.com/bturcanu/adgateway/pkg/types"
)

const (
	maxBodyBytes   = 1 << 20 // 1 MB
	requestTimeout = 60 * time.Second
)

type gatewayDispatch interface {
	Exec(context.Context, types.DirectoryRequest) (directory.Result, error)
}

type gatewayDirectories interface {
	DescribeDirectory(ctx context.Context, region, directoryID string) (*directory.Description, error)
}

type gatewayAudit interface {
	Record(context.Context, *audit.Event) error
}

type gatewayPolicy interface {
	Evaluate(context.Context, policy.Input) (*policy.Result, error)
}

type gatewayNotifier interface {
	Enqueue(notify.Notification) bool
}

type gatewayEvents interface {
	Get(ctx context.Context, eventID string) (*audit.Event, error)
	VerifyRegion(ctx context.Context, region string) (int, error)
	Ping(ctx context.Context) error
}

// Gateway serves /run and the auxiliary read endpoints.
type Gateway struct {
	log         *slog.Logger
	dispatch    gatewayDispatch
	directories gatewayDirectories
	audit       gatewayAudit
	events      gatewayEvents // nil when no audit database is configured
	policy      gatewayPolicy // nil when no OPA is configured
	notifier    gatewayNotifier
	limiter     *callerLimiter

	strict      bool
	statusCodes bool
}

// Routes builds the public router. keys may be nil to run without auth.
func (gw *Gateway) Routes(keys *auth.KeyStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	if keys != nil {
		r.Use(auth.APIKeyAuth(keys))
	}

	// /run is bounded only by OPERATION_TIMEOUT inside the directory service.
	r.Post("/run", gw.HandleRun)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		r.Get("/readyz", gw.HandleReady)
		r.Get("/v1/directories/{directory_id}", gw.HandleDescribe)
		if gw.events != nil {
			r.Get("/v1/audit/events/{event_id}", gw.HandleGetEvent)
			r.Get("/v1/audit/regions/{region}/verify", gw.HandleVerifyRegion)
		}
	})
	return r
}

// HandleReady is GET /readyz. It fails only when the audit database is
// configured and unreachable.
func (gw *Gateway) HandleReady(w http.ResponseWriter, r *http.Request) {
	if gw.events != nil {
		if err := gw.events.Ping(r.Context()); err != nil {
			gw.log.WarnContext(r.Context(), "readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleRun is POST /run.
func (gw *Gateway) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	received := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			gw.log.ErrorContext(ctx, "run panicked", "panic", rec, "stack", string(debug.Stack()))
			gw.fail(w, r, types.ErrInternal("internal error"), fmt.Errorf("%v", rec))
		}
	}()

	// 1. Parse (with body size limit)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		gw.fail(w, r, types.ErrBadRequest("invalid JSON body"), fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if body == nil {
		gw.fail(w, r, types.ErrBadRequest("request body must be a JSON object"), errors.New("request body must be a JSON object"))
		return
	}

	// 2. Shape, and check up front only when running strict
	req := types.ShapeRequest(body)
	if gw.strict {
		if err := req.Validate(); err != nil {
			gw.fail(w, r, types.ErrValidation(err), err)
			return
		}
	}

	// 3. Rate limit
	callerID := auth.CallerFromContext(ctx)
	if !gw.limiter.Allow(limiterKey(callerID, r)) {
		gw.fail(w, r, types.ErrRateLimited(), errors.New("rate limit exceeded"))
		return
	}

	// 4. Policy, for calls that would reach Directory Service
	if gw.policy != nil && req.Action.Known() {
		decision, err := gw.policy.Evaluate(ctx, policy.InputFor(req, callerID))
		if err != nil {
			gw.fail(w, r, types.ErrUpstream("policy evaluation failed", true), fmt.Errorf("policy evaluation failed: %w", err))
			return
		}
		if !decision.Allowed() {
			msg := "denied by policy"
			if decision.Reason != "" {
				msg += ": " + decision.Reason
			}
			gw.fail(w, r, types.ErrForbidden(msg), errors.New(msg))
			return
		}
	}

	// 5. Dispatch
	eventID := uuid.NewString()
	res, err := gw.dispatch.Exec(ctx, req)
	if err != nil {
		gw.fail(w, r, types.ErrUnsupportedAction(req.Action), err)
		return
	}

	// 6. Audit and notify
	ev, err := audit.NewEvent(eventID, req, res, callerID, received, time.Since(received))
	if err != nil {
		gw.log.ErrorContext(ctx, "audit event build failed", "event_id", eventID, "error", err)
	} else {
		_ = gw.audit.Record(ctx, ev)
		if gw.notifier != nil {
			gw.notifier.Enqueue(notify.FromEvent(ev))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Event-ID", eventID)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		gw.log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}

// fail reports a top-level /run failure: by default as HTTP 200 with
// {"error": "An error occurred: ..."}, or with apiErr's status when the
// gateway runs with error status codes.
func (gw *Gateway) fail(w http.ResponseWriter, r *http.Request, apiErr *types.APIError, cause error) {
	gw.log.WarnContext(r.Context(), "run rejected",
		"request_id", middleware.GetReqID(r.Context()),
		"code", apiErr.Code,
		"error", cause,
	)
	if gw.statusCodes {
		apiErr.WriteJSON(w)
		return
	}
	types.NewRunError(cause).WriteJSON(w)
}

// HandleDescribe is GET /v1/directories/{directory_id}?aws_region=...
func (gw *Gateway) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	directoryID := chi.URLParam(r, "directory_id")
	region := r.URL.Query().Get(types.FieldRegion)

	desc, err := gw.directories.DescribeDirectory(ctx, region, directoryID)
	if errors.Is(err, directory.ErrNotFound) {
		types.ErrNotFound("directory not found: " + directoryID).WriteJSON(w)
		return
	}
	if err != nil {
		gw.log.ErrorContext(ctx, "describe directory failed", "directory_id", directoryID, "aws_region", region, "error", err)
		types.ErrUpstream(err.Error(), directory.Classify(err).Retryable()).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		gw.log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}

// HandleGetEvent is GET /v1/audit/events/{event_id}
func (gw *Gateway) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if _, err := uuid.Parse(eventID); err != nil {
		types.ErrBadRequest("invalid event_id format").WriteJSON(w)
		return
	}

	ev, err := gw.events.Get(r.Context(), eventID)
	if err != nil {
		gw.log.ErrorContext(r.Context(), "get event failed", "error", err)
		types.ErrInternal("failed to retrieve event").WriteJSON(w)
		return
	}
	if ev == nil {
		types.ErrNotFound("event not found").WriteJSON(w)
		return
	}
	if caller := auth.CallerFromContext(r.Context()); caller != "" && ev.CallerID != caller {
		types.ErrNotFound("event not found").WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		gw.log.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}

type chainReport struct {
	Region string `json:"aws_region"`
	Events int    `json:"events"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// HandleVerifyRegion is GET /v1/audit/regions/{region}/verify
func (gw *Gateway) HandleVerifyRegion(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")
	n, err := gw.events.VerifyRegion(r.Context(), region)

	switch {
	case err == nil:
	case errors.Is(err, audit.ErrChainBroken):
		gw.log.WarnContext(r.Context(), "audit chain verification failed", "aws_region", region, "error", err)
	default:
		gw.log.ErrorContext(r.Context(), "load audit chain failed", "aws_region", region, "error", err)
		types.ErrInternal("failed to load audit chain").WriteJSON(w)
		return
	}

	report := chainReport{Region: region, Events: n, Valid: err == nil}
	if err != nil {
		report.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		gw.log.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}

// writeTimeout bounds response writes. With no operation timeout a /run call
// may take as long as Directory Service does, so writes are unbounded too.
func writeTimeout(operationTimeout time.Duration) time.Duration {
	if operationTimeout <= 0 {
		return 0
	}
	return max(operationTimeout, requestTimeout) + 5*time.Second
}

// limiterKey buckets authenticated callers by id and anonymous callers by
// client address.
func limiterKey(callerID string, r *http.Request) string {
	if callerID != "" {
		return "caller:" + callerID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

var _ gatewayDispatch = (*dispatch.Registry)(nil)
