// Package rpc is the daemon's wire protocol: JSON frames with
// Content-Length headers over stdio, one request per frame, and a
// dispatch server that routes operations to the write pipeline, the
// sync engine, and the auth flow.
package rpc

import (
	"encoding/json"

	"github.com/gasops/gasd/internal/gitops"
	"github.com/gasops/gasd/internal/types"
)

// Operation names. Mutations mirror filesystem verbs on purpose: the
// client already knows what mv and rm mean.
const (
	OpPing    = "ping"
	OpStatus  = "status"
	OpMetrics = "metrics"
	OpVersion = "version"

	OpWrite = "write"
	OpEdit  = "edit"
	OpAider = "aider"
	OpMv    = "mv"
	OpCp    = "cp"
	OpRm    = "rm"

	OpRsync       = "rsync"
	OpCat         = "cat"
	OpLs          = "ls"
	OpCommit      = "commit"
	OpDeployments = "deployments"

	OpAuth     = "auth"
	OpShutdown = "shutdown"
)

// Request is one client frame.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
}

// Response is one daemon frame. Error carries the full structured
// envelope; clients branch on Error.Code.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *types.Error    `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// WriteArgs are the arguments for the write operation.
type WriteArgs struct {
	ScriptID     string `json:"scriptId"`
	Path         string `json:"path"`
	Content      string `json:"content"`
	ExpectedHash string `json:"expectedHash,omitempty"`
	Force        bool   `json:"force,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ChangeReason string `json:"changeReason,omitempty"`
	Mode         string `json:"mode,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

// EditArgs are the arguments for the exact-match edit operation.
type EditArgs struct {
	ScriptID     string        `json:"scriptId"`
	Path         string        `json:"path"`
	Edits        []gitops.Edit `json:"edits"`
	ExpectedHash string        `json:"expectedHash,omitempty"`
	Force        bool          `json:"force,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	ChangeReason string        `json:"changeReason,omitempty"`
	Mode         string        `json:"mode,omitempty"`
	DryRun       bool          `json:"dryRun,omitempty"`
}

// AiderArgs are the arguments for the fuzzy-match edit operation.
type AiderArgs struct {
	ScriptID     string             `json:"scriptId"`
	Path         string             `json:"path"`
	Edits        []gitops.FuzzyEdit `json:"edits"`
	ExpectedHash string             `json:"expectedHash,omitempty"`
	Force        bool               `json:"force,omitempty"`
	SessionID    string             `json:"sessionId,omitempty"`
	ChangeReason string             `json:"changeReason,omitempty"`
	Mode         string             `json:"mode,omitempty"`
	DryRun       bool               `json:"dryRun,omitempty"`
}

// TransferArgs are the arguments for mv and cp.
type TransferArgs struct {
	ScriptID     string `json:"scriptId"`
	From         string `json:"from"`
	To           string `json:"to"`
	SessionID    string `json:"sessionId,omitempty"`
	ChangeReason string `json:"changeReason,omitempty"`
	Mode         string `json:"mode,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

// RmArgs are the arguments for rm.
type RmArgs struct {
	ScriptID     string `json:"scriptId"`
	Path         string `json:"path"`
	SessionID    string `json:"sessionId,omitempty"`
	ChangeReason string `json:"changeReason,omitempty"`
	Mode         string `json:"mode,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

// RsyncArgs are the arguments for whole-project sync.
type RsyncArgs struct {
	ScriptID         string   `json:"scriptId"`
	Operation        string   `json:"operation"` // "pull" | "push"
	DryRun           bool     `json:"dryRun,omitempty"`
	ConfirmDeletions bool     `json:"confirmDeletions,omitempty"`
	ExcludePatterns  []string `json:"excludePatterns,omitempty"`
}

// CatArgs are the arguments for reading one file. Raw returns the
// stored (wrapped) bytes instead of the unwrapped user text.
type CatArgs struct {
	ScriptID string `json:"scriptId"`
	Path     string `json:"path"`
	Raw      bool   `json:"raw,omitempty"`
}

// CatResult is the cat payload: unwrapped text plus the stored-content
// hash to use as expectedHash on the next mutation.
type CatResult struct {
	ScriptID string         `json:"scriptId"`
	Path     string         `json:"path"`
	Kind     types.FileKind `json:"type"`
	Content  string         `json:"content"`
	Hash     string         `json:"hash"`
}

// LsArgs are the arguments for listing a project.
type LsArgs struct {
	ScriptID string `json:"scriptId"`
}

// LsEntry is one file in an ls listing.
type LsEntry struct {
	Name string         `json:"name"`
	Kind types.FileKind `json:"type"`
	Size int            `json:"size"`
	Hash string         `json:"hash"`
}

// CommitArgs are the arguments for the explicit commit operation.
type CommitArgs struct {
	ScriptID  string `json:"scriptId"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// CommitResult reports the explicit commit outcome.
type CommitResult struct {
	Committed bool           `json:"committed"`
	Branch    string         `json:"branch"`
	CommitSHA string         `json:"commitSha,omitempty"`
	Git       *types.GitHint `json:"git"`
}

// AuthArgs select an auth sub-action.
type AuthArgs struct {
	Action    string `json:"action"` // "status" | "login" | "logout"
	Principal string `json:"principal,omitempty"`
}

// AuthStatus is the auth status payload.
type AuthStatus struct {
	Authorized bool     `json:"authorized"`
	Principals []string `json:"principals,omitempty"`
	FlowState  string   `json:"flowState,omitempty"`
}

// StatusArgs optionally scope status to one script and to a subset of
// sections (auth, locks, metrics, cache, project). An empty Sections
// list means everything.
type StatusArgs struct {
	ScriptID string   `json:"scriptId,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

// decodeArgs unmarshals request args with a structured error.
func decodeArgs(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return types.NewError(types.CodeValidation, "missing args")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return types.NewError(types.CodeValidation, "malformed args: "+err.Error())
	}
	return nil
}
