// Package apperr implements the error taxonomy described for the Agent Runtime
// Core: a small set of kinds that callers branch on, each wrapping an
// underlying cause. Handlers surface these to the GUI command surface; none of
// them are retried automatically except where a component's own design (ACP
// auth recovery, chat-bridge auto-restart) says otherwise.
package apperr

import "fmt"

// Kind enumerates the error taxonomy from the error handling design.
type Kind string

const (
	KindDatabase          Kind = "database"
	KindNotFound          Kind = "not_found"
	KindInvalidRequest    Kind = "invalid_request"
	KindACP               Kind = "acp"
	KindTransport         Kind = "transport"
	KindAgentNotRunning   Kind = "agent_not_running"
	KindAgentAlreadyUp    Kind = "agent_already_running"
	KindPermissionDenied  Kind = "permission_denied"
	KindVersionUpgrade    Kind = "version_upgrade_required"
	KindInternal          Kind = "internal"
)

// Error is a typed application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Package carries {package, agent_type} for KindVersionUpgrade errors, as
	// extracted by provisioner.DetectUpgradeError.
	Package   string
	AgentType string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperr.New(KindNotFound, "")) style kind checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func InvalidRequest(message string) *Error   { return New(KindInvalidRequest, message) }
func Internal(message string, cause error) *Error { return Wrap(KindInternal, message, cause) }

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting to
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return ""
	}
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
