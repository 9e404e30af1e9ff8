package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gasops/gasd/internal/auth"
	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/gitops"
	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/rsync"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/wrap"
)

// Server dispatches protocol operations. One server per process; the
// serve loop handles frames sequentially because every mutation
// serializes on the script lock anyway.
type Server struct {
	cfg      *config.Config
	pipeline *gitops.Manager
	sync     *rsync.Engine
	remote   gas.Client
	store    *auth.Store
	metrics  *Metrics
	version  string

	// newAcquirer builds a fresh single-use auth flow per login.
	newAcquirer func() *auth.Acquirer

	stop chan struct{}
}

// NewServer wires the dispatcher.
func NewServer(cfg *config.Config, pipeline *gitops.Manager, sync *rsync.Engine, remote gas.Client, store *auth.Store, version string) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		sync:     sync,
		remote:   remote,
		store:    store,
		metrics:  NewMetrics(),
		version:  version,
		stop:     make(chan struct{}),
	}
	s.newAcquirer = func() *auth.Acquirer { return auth.NewAcquirer(cfg, store) }
	return s
}

// Done is closed when a shutdown operation was handled.
func (s *Server) Done() <-chan struct{} { return s.stop }

// Serve pumps frames until EOF, ctx cancellation, or shutdown.
func (s *Server) Serve(ctx context.Context, f *Framer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}

		req, err := f.ReadRequest()
		if err != nil {
			if err == io.EOF {
				debug.Logf("client hung up")
				return nil
			}
			return err
		}
		resp := s.Handle(ctx, req)
		if err := f.WriteResponse(resp); err != nil {
			return err
		}
		if req.Operation == OpShutdown {
			return nil
		}
	}
}

// Handle routes one request and records metrics.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()
	data, err := s.dispatch(ctx, req)
	s.metrics.RecordRequest(req.Operation, time.Since(start), err != nil)

	resp := &Response{RequestID: req.RequestID}
	if err != nil {
		resp.Error = types.AsError(err, types.CodeFatal)
		debug.Logf("%s failed: %v", req.Operation, err)
		return resp
	}
	resp.Success = true
	resp.Data = data
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (json.RawMessage, error) {
	switch req.Operation {
	case OpPing:
		return marshal(map[string]interface{}{"pong": true, "version": s.version})
	case OpVersion:
		return marshal(map[string]string{"version": s.version})
	case OpMetrics:
		return marshal(s.metrics.Snapshot())
	case OpStatus:
		return s.handleStatus(ctx, req.Args)
	case OpWrite:
		return s.handleWrite(ctx, req.Args)
	case OpEdit:
		return s.handleEdit(ctx, req.Args)
	case OpAider:
		return s.handleAider(ctx, req.Args)
	case OpMv, OpCp:
		return s.handleTransfer(ctx, req.Operation, req.Args)
	case OpRm:
		return s.handleRm(ctx, req.Args)
	case OpRsync:
		return s.handleRsync(ctx, req.Args)
	case OpCat:
		return s.handleCat(ctx, req.Args)
	case OpLs:
		return s.handleLs(ctx, req.Args)
	case OpCommit:
		return s.handleCommit(ctx, req.Args)
	case OpDeployments:
		return s.handleDeployments(ctx, req.Args)
	case OpAuth:
		return s.handleAuth(ctx, req.Args)
	case OpShutdown:
		close(s.stop)
		return marshal(map[string]bool{"stopping": true})
	default:
		return nil, types.NewError(types.CodeUnknownOp,
			fmt.Sprintf("unknown operation %q", req.Operation))
	}
}

func marshal(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, types.NewError(types.CodeFatal, "failed to encode response data: "+err.Error())
	}
	return data, nil
}

func (s *Server) handleWrite(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a WriteArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	strat, err := gitops.NewWriteStrategy(s.remote, a.ScriptID, a.Path, a.Content, a.ExpectedHash, a.Force)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.ExecuteWithGit(ctx, strat, gitops.Request{
		ScriptID: a.ScriptID, SessionID: a.SessionID,
		ChangeReason: a.ChangeReason, Mode: a.Mode, DryRun: a.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return marshal(res)
}

func (s *Server) handleEdit(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a EditArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	strat, err := gitops.NewEditStrategy(s.remote, a.ScriptID, a.Path, a.Edits, a.ExpectedHash, a.Force)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.ExecuteWithGit(ctx, strat, gitops.Request{
		ScriptID: a.ScriptID, SessionID: a.SessionID,
		ChangeReason: a.ChangeReason, Mode: a.Mode, DryRun: a.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return marshal(res)
}

func (s *Server) handleAider(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a AiderArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	strat, err := gitops.NewAiderStrategy(s.remote, a.ScriptID, a.Path, a.Edits, a.ExpectedHash, a.Force)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.ExecuteWithGit(ctx, strat, gitops.Request{
		ScriptID: a.ScriptID, SessionID: a.SessionID,
		ChangeReason: a.ChangeReason, Mode: a.Mode, DryRun: a.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return marshal(res)
}

func (s *Server) handleTransfer(ctx context.Context, op string, raw json.RawMessage) (json.RawMessage, error) {
	var a TransferArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	var (
		strat gitops.Strategy
		err   error
	)
	if op == OpMv {
		strat, err = gitops.NewMoveStrategy(s.remote, a.ScriptID, a.From, a.To)
	} else {
		strat, err = gitops.NewCopyStrategy(s.remote, a.ScriptID, a.From, a.To)
	}
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.ExecuteWithGit(ctx, strat, gitops.Request{
		ScriptID: a.ScriptID, SessionID: a.SessionID,
		ChangeReason: a.ChangeReason, Mode: a.Mode, DryRun: a.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return marshal(res)
}

func (s *Server) handleRm(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a RmArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	strat, err := gitops.NewDeleteStrategy(s.remote, a.ScriptID, a.Path)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.ExecuteWithGit(ctx, strat, gitops.Request{
		ScriptID: a.ScriptID, SessionID: a.SessionID,
		ChangeReason: a.ChangeReason, Mode: a.Mode, DryRun: a.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return marshal(res)
}

func (s *Server) handleRsync(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a RsyncArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	out, err := s.sync.Sync(ctx, s.remote, rsync.Options{
		Operation:        a.Operation,
		ScriptID:         a.ScriptID,
		DryRun:           a.DryRun,
		ConfirmDeletions: a.ConfirmDeletions,
		ExcludePatterns:  a.ExcludePatterns,
	})
	if err != nil {
		return nil, err
	}
	return marshal(out)
}

func (s *Server) handleCat(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a CatArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := types.ValidateScriptID(a.ScriptID); err != nil {
		return nil, err
	}
	files, err := s.remote.GetProjectContent(ctx, a.ScriptID)
	if err != nil {
		return nil, err
	}
	name := types.StripExtension(a.Path)
	for _, f := range files {
		if f.Name != name {
			continue
		}
		text := f.Source
		if !a.Raw {
			text, _ = wrap.UnwrapFile(f.Name, f.Kind, f.Source)
		}
		return marshal(CatResult{
			ScriptID: a.ScriptID,
			Path:     f.Name + f.Kind.Extension(),
			Kind:     f.Kind,
			Content:  text,
			Hash:     hashutil.GitBlobSHA1(f.Source),
		})
	}
	return nil, types.NewError(types.CodeNotFound, fmt.Sprintf("file not found: %s", a.Path))
}

func (s *Server) handleLs(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a LsArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := types.ValidateScriptID(a.ScriptID); err != nil {
		return nil, err
	}
	files, err := s.remote.GetProjectContent(ctx, a.ScriptID)
	if err != nil {
		return nil, err
	}
	entries := make([]LsEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, LsEntry{
			Name: f.Name + f.Kind.Extension(),
			Kind: f.Kind,
			Size: len(f.Source),
			Hash: hashutil.GitBlobSHA1(f.Source),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return marshal(entries)
}

func (s *Server) handleDeployments(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a LsArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := types.ValidateScriptID(a.ScriptID); err != nil {
		return nil, err
	}
	deps, err := s.remote.ListDeployments(ctx, a.ScriptID)
	if err != nil {
		return nil, err
	}
	return marshal(deps)
}

func (s *Server) handleCommit(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a CommitArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if err := types.ValidateScriptID(a.ScriptID); err != nil {
		return nil, err
	}
	if a.Message == "" {
		return nil, types.NewError(types.CodeValidation, "commit requires a message")
	}

	resolved, err := s.pipeline.Resolver().Resolve(ctx, a.ScriptID, a.SessionID)
	if err != nil {
		return nil, err
	}
	git := s.pipeline.Git()
	if err := git.StageAll(ctx, resolved.Dir); err != nil {
		return nil, err
	}
	committed, err := git.Commit(ctx, resolved.Dir, a.Message)
	if err != nil {
		return nil, err
	}

	count, err := git.UncommittedCount(ctx, resolved.Dir)
	if err != nil {
		debug.Warnf("uncommitted count failed: %v", err)
	}
	action := "finish"
	if count > 0 {
		action = "commit"
	}
	res := CommitResult{
		Committed: committed,
		Branch:    resolved.Branch,
		Git: &types.GitHint{
			Branch:           resolved.Branch,
			UncommittedCount: count,
			Action:           action,
		},
	}
	if committed {
		res.CommitSHA = git.HeadSHA(ctx, resolved.Dir)
	}
	return marshal(res)
}

func (s *Server) handleAuth(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a AuthArgs
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "status", "":
		principals, err := s.store.Principals()
		if err != nil {
			return nil, err
		}
		authorized := false
		for _, p := range principals {
			tok, err := s.store.Load(p)
			if err == nil && tok.Valid() {
				authorized = true
				break
			}
		}
		return marshal(AuthStatus{Authorized: authorized, Principals: principals})
	case "logout":
		if err := s.store.Delete(a.Principal); err != nil {
			return nil, err
		}
		return marshal(map[string]bool{"loggedOut": true})
	case "login":
		acq := s.newAcquirer()
		_, principal, err := acq.Authorize(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(AuthStatus{Authorized: true, Principals: []string{principal}, FlowState: string(acq.State())})
	default:
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("unknown auth action %q: want status, login, or logout", a.Action))
	}
}

func (s *Server) handleStatus(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a StatusArgs
	if len(raw) > 0 {
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
	}

	want := func(section string) bool {
		if len(a.Sections) == 0 {
			return true
		}
		for _, name := range a.Sections {
			if name == section {
				return true
			}
		}
		return false
	}

	status := map[string]interface{}{"version": s.version}
	if want("auth") {
		authStatus := AuthStatus{}
		if principals, err := s.store.Principals(); err == nil {
			authStatus.Principals = principals
			for _, p := range principals {
				tok, err := s.store.Load(p)
				if err == nil && tok.Valid() {
					authStatus.Authorized = true
					break
				}
			}
		}
		status["auth"] = authStatus
	}
	if want("locks") {
		status["locks"] = s.pipeline.Locks().Snapshot()
	}
	if want("metrics") {
		status["metrics"] = s.metrics.Snapshot()
	}
	if want("cache") {
		status["cache"] = map[string]interface{}{
			"backend": "xattr",
			"enabled": s.pipeline.Cache().Enabled(),
		}
	}
	if a.ScriptID != "" && want("project") {
		if err := types.ValidateScriptID(a.ScriptID); err != nil {
			return nil, err
		}
		dir := s.pipeline.Resolver().ProjectDir(a.ScriptID)
		status["lock"] = s.pipeline.Locks().StatusFor(a.ScriptID)

		project := map[string]interface{}{"scriptId": a.ScriptID, "dir": dir}
		git := s.pipeline.Git()
		if branch, err := git.CurrentBranch(ctx, dir); err == nil {
			count, _ := git.UncommittedCount(ctx, dir)
			project["branch"] = branch
			project["uncommittedCount"] = count
		}
		if m, err := rsync.LoadManifest(dir); err == nil && m != nil {
			project["lastSync"] = map[string]interface{}{
				"direction": m.Direction,
				"syncedAt":  m.SyncedAt,
				"files":     len(m.Files),
				"commitSha": m.CommitSHA,
			}
		}
		status["project"] = project
	}
	return marshal(status)
}
