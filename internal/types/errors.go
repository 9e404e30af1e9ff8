package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for the wire-level error envelope. Codes are semantic
// categories, not Go type names; clients branch on them.
const (
	CodeValidation  = "VALIDATION"
	CodeAuth        = "AUTH"
	CodeConflict    = "CONFLICT"
	CodeLockTimeout = "LOCK_TIMEOUT"
	CodeRemote      = "REMOTE"
	CodeLocalIO     = "LOCAL_IO"
	CodeGit         = "GIT"
	CodeDeletions   = "DELETION_REQUIRES_CONFIRMATION"
	CodeFatal       = "FATAL"
	CodeNotFound    = "NOT_FOUND"
	CodeUnknownOp   = "UNKNOWN_OPERATION"
)

// Error is the structured error every tool surfaces to the client:
// {code, message, details?, hints[]}. Hints may be rendered verbatim.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Hints   []string    `json:"hints,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Hints) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Hints, "; "))
}

// NewError builds a structured error with optional hints.
func NewError(code, message string, hints ...string) *Error {
	return &Error{Code: code, Message: message, Hints: hints}
}

// AsError extracts a structured *Error from err's chain, wrapping
// unclassified errors under the given fallback code.
func AsError(err error, fallbackCode string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: fallbackCode, Message: err.Error()}
}

// ConflictDetails is the payload of a CONFLICT error: both hashes plus
// a short preview of what changed, so the caller can re-read and retry.
type ConflictDetails struct {
	ScriptID     string `json:"scriptId"`
	Filename     string `json:"filename"`
	Operation    string `json:"operation"`
	ExpectedHash string `json:"expectedHash"`
	CurrentHash  string `json:"currentHash"`
	DiffPreview  string `json:"diffPreview,omitempty"`
}

// LockHolderDetails is the payload of a LOCK_TIMEOUT error.
type LockHolderDetails struct {
	ScriptID  string `json:"scriptId"`
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname"`
	Operation string `json:"operation"`
	HeldSince string `json:"heldSince"`
}

// DeletionDetails is the payload of a DELETION_REQUIRES_CONFIRMATION
// refusal from rsync.
type DeletionDetails struct {
	Operation string   `json:"operation"`
	Files     []string `json:"files"`
}
