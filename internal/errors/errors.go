package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypePathOutOfScope ErrorType = "PathOutOfScope"
	ErrorTypeMissingContent ErrorType = "MissingContent"
	ErrorTypeMissingOldPath ErrorType = "MissingOldPath"
	ErrorTypeEmptyCommit    ErrorType = "EmptyCommit"
	ErrorTypeUnknownCommit  ErrorType = "UnknownCommit"
	ErrorTypeNotAnAncestor  ErrorType = "NotAnAncestor"
	ErrorTypeStaleParent    ErrorType = "StaleParent"
	ErrorTypePersistence    ErrorType = "PersistenceFailure"
	ErrorTypeFilesystem     ErrorType = "FilesystemOperationFailure"
	ErrorTypeInvalidParams  ErrorType = "InvalidParams"
	ErrorTypeNoSession      ErrorType = "NoSession"
	ErrorTypeInternal       ErrorType = "Internal"
)

// JSON-RPC error codes, one per type. Server-defined codes live in
// the -32000..-32099 band reserved by the JSON-RPC 2.0 spec.
var codes = map[ErrorType]int{
	ErrorTypePathOutOfScope: -32001,
	ErrorTypeMissingContent: -32002,
	ErrorTypeMissingOldPath: -32003,
	ErrorTypeEmptyCommit:    -32004,
	ErrorTypeUnknownCommit:  -32005,
	ErrorTypeNotAnAncestor:  -32006,
	ErrorTypeStaleParent:    -32007,
	ErrorTypePersistence:    -32008,
	ErrorTypeFilesystem:     -32009,
	ErrorTypeNoSession:      -32010,
	ErrorTypeInvalidParams:  -32602,
	ErrorTypeInternal:       -32603,
}

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Path    string    `json:"path,omitempty"`
	Details any       `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same type, so callers can write
// errors.Is(err, &Error{Type: ErrorTypeStaleParent}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func newError(t ErrorType, message string) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Code:    codes[t],
	}
}

// CodeFor returns the stable JSON-RPC code of an error type.
func CodeFor(t ErrorType) int {
	if code, ok := codes[t]; ok {
		return code
	}
	return codes[ErrorTypeInternal]
}

// TypeOf classifies err. Errors that are not *Error are Internal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// As is the standard library errors.As, re-exported so callers importing
// this package under the name errors keep access to it.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func PathOutOfScope(path, root string) *Error {
	e := newError(ErrorTypePathOutOfScope, fmt.Sprintf("path %q is outside session root %q", path, root))
	e.Path = path
	return e
}

func MissingContent(path, kind string) *Error {
	e := newError(ErrorTypeMissingContent, fmt.Sprintf("%s of %q requires content", kind, path))
	e.Path = path
	return e
}

func MissingOldPath(path string) *Error {
	e := newError(ErrorTypeMissingOldPath, fmt.Sprintf("rename to %q requires old_path", path))
	e.Path = path
	return e
}

func EmptyCommit() *Error {
	return newError(ErrorTypeEmptyCommit, "no pending changes to commit")
}

func UnknownCommit(id string) *Error {
	return newError(ErrorTypeUnknownCommit, fmt.Sprintf("unknown commit: %s", id))
}

func NotAnAncestor(id, head string) *Error {
	return newError(ErrorTypeNotAnAncestor, fmt.Sprintf("commit %s is not an ancestor of head %s", id, head))
}

func StaleParent(declared, head string) *Error {
	e := newError(ErrorTypeStaleParent, fmt.Sprintf("stale parent %q: head is %q", declared, head))
	e.Details = map[string]string{"declared_parent": declared, "head": head}
	return e
}

func Persistence(message string, cause error) *Error {
	e := newError(ErrorTypePersistence, message)
	e.Cause = cause
	return e
}

// Filesystem reports a failed filesystem operation. details usually
// carries the per-operation report of the ChangeSet being applied.
func Filesystem(path string, cause error, details any) *Error {
	e := newError(ErrorTypeFilesystem, fmt.Sprintf("filesystem operation failed on %q", path))
	e.Path = path
	e.Cause = cause
	e.Details = details
	return e
}

func InvalidParams(message string) *Error {
	return newError(ErrorTypeInvalidParams, message)
}

func NoSession(id string) *Error {
	if id == "" {
		return newError(ErrorTypeNoSession, "no active session, call gitent_init first")
	}
	return newError(ErrorTypeNoSession, fmt.Sprintf("unknown session: %s", id))
}

func Internal(message string, cause error) *Error {
	e := newError(ErrorTypeInternal, message)
	e.Cause = cause
	return e
}
