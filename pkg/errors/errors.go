// Package errors defines the typed error taxonomy shared by every
// subsystem of the orchestrator: the workflow state machine, the MCP
// connection manager, the validation pipeline, and the outbound client.
//
// Every error here carries enough structured context for a caller to
// react programmatically (retry, surface to the user, abort the
// session) without parsing a message string.
package errors

import (
	"fmt"
	"time"
)

// InvalidTransitionError is raised when the workflow machine rejects a
// state transition that is not present in the transition table.
type InvalidTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (allowed: %v)", e.From, e.To, e.Allowed)
}

func NewInvalidTransitionError(from, to string, allowed []string) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to, Allowed: allowed}
}

// HandlerNotFoundError is raised when a state has no registered handler.
type HandlerNotFoundError struct {
	State string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for state %q", e.State)
}

func NewHandlerNotFoundError(state string) *HandlerNotFoundError {
	return &HandlerNotFoundError{State: state}
}

// ProcessorNotFoundError is raised when a required collaborator (planner,
// verifier, replanner) was not wired for a handler that needs it.
type ProcessorNotFoundError struct {
	Name string
}

func (e *ProcessorNotFoundError) Error() string {
	return fmt.Sprintf("processor %q is not configured", e.Name)
}

func NewProcessorNotFoundError(name string) *ProcessorNotFoundError {
	return &ProcessorNotFoundError{Name: name}
}

// HandlerError wraps an error raised by a state handler with the state
// and (optionally) item it was processing.
type HandlerError struct {
	State  string
	ItemID string
	Err    error
}

func (e *HandlerError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("handler for state %q failed on item %q: %v", e.State, e.ItemID, e.Err)
	}
	return fmt.Sprintf("handler for state %q failed: %v", e.State, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func NewHandlerError(state, itemID string, err error) *HandlerError {
	return &HandlerError{State: state, ItemID: itemID, Err: err}
}

// TimeoutError is the common shape for every typed timeout in the system
// (transition, handler, queue, RPC). Kind distinguishes which.
type TimeoutError struct {
	Kind    string // "TransitionTimeout" | "HandlerTimeout" | "QueueTimeout" | "RPCTimeout"
	Subject string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %q exceeded deadline of %v", e.Kind, e.Subject, e.After)
}

func NewTransitionTimeoutError(subject string, after time.Duration) *TimeoutError {
	return &TimeoutError{Kind: "TransitionTimeout", Subject: subject, After: after}
}

func NewHandlerTimeoutError(subject string, after time.Duration) *TimeoutError {
	return &TimeoutError{Kind: "HandlerTimeout", Subject: subject, After: after}
}

func NewQueueTimeoutError(subject string, after time.Duration) *TimeoutError {
	return &TimeoutError{Kind: "QueueTimeout", Subject: subject, After: after}
}

func NewRPCTimeoutError(subject string, after time.Duration) *TimeoutError {
	return &TimeoutError{Kind: "RPCTimeout", Subject: subject, After: after}
}

// IsTimeout reports whether err is one of the typed timeout errors, and
// if so which kind.
func IsTimeout(err error) (*TimeoutError, bool) {
	te, ok := err.(*TimeoutError)
	return te, ok
}

// ValidationError is raised when the validation pipeline rejects a
// planned batch of tool calls at a critical stage.
type ValidationError struct {
	RejectedAt string // stage name
	Stages     []string
	Errors     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rejected at stage %q: %v", e.RejectedAt, e.Errors)
}

func NewValidationError(rejectedAt string, stages, errs []string) *ValidationError {
	return &ValidationError{RejectedAt: rejectedAt, Stages: stages, Errors: errs}
}

// MCPError is the common shape for MCP lifecycle/RPC failures. Kind
// distinguishes spawn/handshake/rpc/dead per spec.md §7.
type MCPError struct {
	Kind   string // "MCPSpawnError" | "MCPHandshakeError" | "MCPRPCError" | "MCPServerDead"
	Server string
	Err    error
}

func (e *MCPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Server, e.Err)
	}
	return fmt.Sprintf("%s[%s]", e.Kind, e.Server)
}

func (e *MCPError) Unwrap() error { return e.Err }

func NewMCPSpawnError(server string, err error) *MCPError {
	return &MCPError{Kind: "MCPSpawnError", Server: server, Err: err}
}

func NewMCPHandshakeError(server string, err error) *MCPError {
	return &MCPError{Kind: "MCPHandshakeError", Server: server, Err: err}
}

func NewMCPRPCError(server string, err error) *MCPError {
	return &MCPError{Kind: "MCPRPCError", Server: server, Err: err}
}

func NewMCPServerDeadError(server string) *MCPError {
	return &MCPError{Kind: "MCPServerDead", Server: server}
}

// RateLimitExceededError is raised when a burst cap is reached.
type RateLimitExceededError struct {
	Service string
	Limit   int
	Window  time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: %d requests per %v", e.Service, e.Limit, e.Window)
}

func NewRateLimitExceededError(service string, limit int, window time.Duration) *RateLimitExceededError {
	return &RateLimitExceededError{Service: service, Limit: limit, Window: window}
}

// QueueOverflowError is raised when an outbound queue's depth cap is
// exceeded by a new submission.
type QueueOverflowError struct {
	Service string
	Depth   int
	Cap     int
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("queue overflow for %q: depth %d exceeds cap %d", e.Service, e.Depth, e.Cap)
}

func NewQueueOverflowError(service string, depth, cap int) *QueueOverflowError {
	return &QueueOverflowError{Service: service, Depth: depth, Cap: cap}
}

// CircuitOpenError is raised when a circuit breaker rejects a call
// because it is in the open state.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry after %v", e.Service, e.RetryAfter)
}

func NewCircuitOpenError(service string, retryAfter time.Duration) *CircuitOpenError {
	return &CircuitOpenError{Service: service, RetryAfter: retryAfter}
}

// CancelledError is raised when a session is cancelled by the user.
type CancelledError struct {
	SessionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("session %q cancelled", e.SessionID)
}

func NewCancelledError(sessionID string) *CancelledError {
	return &CancelledError{SessionID: sessionID}
}

// Kind categorizes errors for the "error" SSE frame the web layer emits;
// the core never writes to the wire but callers surfacing errors
// upstream need a stable machine-readable string.
func Kind(err error) string {
	switch e := err.(type) {
	case *InvalidTransitionError:
		return "InvalidTransition"
	case *HandlerNotFoundError:
		return "HandlerNotFound"
	case *ProcessorNotFoundError:
		return "ProcessorNotFound"
	case *HandlerError:
		return "HandlerError"
	case *TimeoutError:
		return e.Kind
	case *ValidationError:
		return "ValidationError"
	case *MCPError:
		return e.Kind
	case *RateLimitExceededError:
		return "RateLimitExceeded"
	case *QueueOverflowError:
		return "QueueOverflow"
	case *CircuitOpenError:
		return "CircuitOpen"
	case *CancelledError:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
