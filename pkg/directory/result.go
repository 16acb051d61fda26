package directory

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"

	"github.com/bturcanu/adgateway/pkg/types"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusDeleted Status = "deleted"
)

// Result is the outcome of a lifecycle operation. Either Status and
// DirectoryID are set, or Error (and Kind) is; never both.
type Result struct {
	Status      Status    `json:"status,omitempty"`
	DirectoryID string    `json:"directory_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Kind        ErrorKind `json:"error_kind,omitempty"`
}

// Succeeded builds a success result.
func Succeeded(status Status, directoryID string) Result {
	return Result{Status: status, DirectoryID: directoryID}
}

// Failed captures err as data. The Result always carries a message, even
// for errors that print as "".
func Failed(err error) Result {
	kind := Classify(err)
	if kind == "" {
		kind = KindUnknown
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "directory operation failed (" + string(kind) + ")"
	}
	return Result{Error: msg, Kind: kind}
}

// OK reports whether r is a success.
func (r Result) OK() bool {
	return r.Error == "" && r.Status != ""
}

// ──────────────────────────────────────────────────────────────────────────────
// Error classification
// ──────────────────────────────────────────────────────────────────────────────

type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindNotFound        ErrorKind = "not_found"
	KindLimitExceeded   ErrorKind = "limit_exceeded"
	KindTransient       ErrorKind = "transient"
	KindUnknown         ErrorKind = "unknown"
)

// Retryable reports whether retrying the same call could succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

var errorCodeKinds = map[string]ErrorKind{
	"InvalidParameterException":       KindInvalidArgument,
	"ValidationException":             KindInvalidArgument,
	"UnsupportedOperationException":   KindInvalidArgument,
	"ClientException":                 KindInvalidArgument,
	"DirectoryUnavailableException":   KindInvalidArgument,
	"AccessDeniedException":           KindUnauthorized,
	"AuthenticationFailedException":   KindUnauthorized,
	"UnrecognizedClientException":     KindUnauthorized,
	"InvalidClientTokenId":            KindUnauthorized,
	"InvalidSignatureException":       KindUnauthorized,
	"ExpiredTokenException":           KindUnauthorized,
	"EntityDoesNotExistException":     KindNotFound,
	"DirectoryDoesNotExistException":  KindNotFound,
	"DirectoryLimitExceededException": KindLimitExceeded,
	"ServiceQuotaExceededException":   KindLimitExceeded,
	"ServiceException":                KindTransient,
	"ThrottlingException":             KindTransient,
	"RequestLimitExceeded":            KindTransient,
	"TooManyRequestsException":        KindTransient,
	"InternalFailure":                 KindTransient,
	"ServiceUnavailable":              KindTransient,
}

// Classify maps an error from the Directory Service client onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return KindInvalidArgument
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := errorCodeKinds[apiErr.ErrorCode()]; ok {
			return kind
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return KindTransient
		}
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}
