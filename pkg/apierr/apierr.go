// Package apierr defines the error kinds that cross component boundaries in
// the gateway and their mapping onto HTTP status codes and wire payloads.
// Every internal failure is converted into one of these kinds before it
// reaches a client.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Stable machine-readable error codes.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeValidation               = "VALIDATION_ERROR"
	CodeIdempotencyKeyRequired   = "IDEMPOTENCY_KEY_REQUIRED"
	CodeIdempotencyKeyReused     = "IDEMPOTENCY_KEY_REUSED"
	CodeApprovalAlreadyFinalized = "APPROVAL_ALREADY_FINALIZED"
	CodeActionNotProposable      = "ACTION_NOT_PROPOSABLE"
	CodePolicyBlocked            = "POLICY_BLOCKED"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeCapabilityDenied         = "CAPABILITY_DENIED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeSidecarHTTP              = "SIDECAR_HTTP_ERROR"
	CodeSidecarUnreachable       = "SIDECAR_UNREACHABLE"
	CodeSidecarBadResponse       = "SIDECAR_BAD_RESPONSE"
	CodeInternal                 = "INTERNAL"
)

// Error is an API-visible failure. Status is the HTTP status code, Code the
// stable machine-readable code, Message the human-readable detail.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds an Error with an explicit status and code.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(status int, code, format string, args ...any) *Error {
	return New(status, code, fmt.Sprintf(format, args...))
}

// NotFound returns a 404 NOT_FOUND error.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NotFoundf returns a 404 NOT_FOUND error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return NotFound(fmt.Sprintf(format, args...))
}

// Validation returns a 400 VALIDATION_ERROR error.
func Validation(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, message)
}

// ValidationCode returns a 400 error with a specialized validation code such
// as IDEMPOTENCY_KEY_REQUIRED or APPROVAL_ALREADY_FINALIZED.
func ValidationCode(code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

// PolicyBlocked returns a 403 POLICY_BLOCKED error. An empty message uses the
// default wording.
func PolicyBlocked(message string) *Error {
	if message == "" {
		message = "blocked by policy"
	}
	return New(http.StatusForbidden, CodePolicyBlocked, message)
}

// Unauthorized returns a 401 UNAUTHORIZED error. An empty message uses the
// default wording.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "missing or invalid credentials"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// CapabilityDenied returns the 403 CAPABILITY_DENIED error for an agent that
// holds no grant matching capabilityID.
func CapabilityDenied(agentID, capabilityID string) *Error {
	return Newf(http.StatusForbidden, CodeCapabilityDenied,
		"agent '%s' is not allowed to call '%s'", agentID, capabilityID)
}

// RateLimited returns a 429 RATE_LIMITED error.
func RateLimited(message string) *Error {
	if message == "" {
		message = "rate limit exceeded"
	}
	return New(http.StatusTooManyRequests, CodeRateLimited, message)
}

// Internal returns a 500 INTERNAL error.
func Internal(message string) *Error {
	return New(http.StatusInternalServerError, CodeInternal, message)
}

// From converts any error into an *Error. Errors that are not already an
// *Error become 500 INTERNAL; plugin failures are never swallowed.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err.Error())
}

type wireDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireEnvelope struct {
	Error wireDetail `json:"error"`
}

// Write renders err on w using the wire format {"error":{"code","message"}}.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(wireEnvelope{Error: wireDetail{Code: e.Code, Message: e.Message}})
}
