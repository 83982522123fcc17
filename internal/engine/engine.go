// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitent/internal/change"
	"gitent/internal/commit"
	"gitent/internal/config"
	"gitent/internal/diff"
	gerrors "gitent/internal/errors"
	"gitent/internal/history"
	"gitent/internal/rollback"
	"gitent/internal/session"

	"go.uber.org/zap"
)

// Engine exposes the tracking operations over the sessions of one
// process. It is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	sessions *session.Manager
	differ   *diff.Engine
	logger   *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger, opts ...session.Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		sessions: session.NewManager(cfg, logger, opts...),
		differ:   diff.NewEngine(cfg.Diff.ContextLines),
		logger:   logger,
	}
}

// Sessions exposes the underlying registry.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

func (e *Engine) Close() error {
	return e.sessions.Close()
}

type InitRequest struct {
	Path   string `json:"path"`
	DBPath string `json:"db_path,omitempty"`
}

type InitResult struct {
	SessionID    string  `json:"session_id"`
	Root         string  `json:"root_path"`
	Head         *string `json:"head_commit_id"`
	PendingCount int     `json:"pending_count"`
	Started      bool    `json:"started"`
	DBPath       string  `json:"db_path,omitempty"`
}

// Init starts tracking req.Path, or reconnects to the session already
// bound to it.
func (e *Engine) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	path := req.Path
	if path == "" {
		path = "."
	}
	h, created, err := e.sessions.InitOrConnect(ctx, path, req.DBPath)
	if err != nil {
		return InitResult{}, err
	}
	st := h.Status(false)
	return InitResult{
		SessionID:    h.ID,
		Root:         h.Root,
		Head:         st.Head,
		PendingCount: st.PendingCount,
		Started:      created,
		DBPath:       h.DBPath(),
	}, nil
}

type StatusRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

func (e *Engine) Status(ctx context.Context, req StatusRequest) (session.Status, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return session.Status{}, err
	}
	return h.Status(req.Verbose), nil
}

// TrackRequest describes one change. Content is nil when absent, which
// differs from empty content.
type TrackRequest struct {
	SessionID  string
	Path       string
	ChangeType string
	OldPath    string
	Content    []byte
	AgentID    string
}

type TrackResult struct {
	Seq        uint64      `json:"sequence_number"`
	ChangeType change.Kind `json:"change_type"`
	Path       string      `json:"path"`
	OldPath    string      `json:"old_path,omitempty"`
	AgentID    string      `json:"agent_id"`
	Timestamp  time.Time   `json:"timestamp"`
}

func (e *Engine) Track(ctx context.Context, req TrackRequest) (TrackResult, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return TrackResult{}, err
	}
	kind, err := change.ParseKind(req.ChangeType)
	if err != nil {
		return TrackResult{}, err
	}

	c, err := h.Tracker.Track(change.Request{
		Path:    req.Path,
		Kind:    kind,
		OldPath: req.OldPath,
		Content: req.Content,
		AgentID: req.AgentID,
	})
	if err != nil {
		return TrackResult{}, err
	}
	return TrackResult{
		Seq:        c.Seq,
		ChangeType: c.Kind,
		Path:       c.Path,
		OldPath:    c.OldPath,
		AgentID:    c.AgentID,
		Timestamp:  c.Timestamp,
	}, nil
}

type CommitRequest struct {
	SessionID      string   `json:"session_id,omitempty"`
	Message        string   `json:"message"`
	AgentID        string   `json:"agent_id,omitempty"`
	Author         string   `json:"author,omitempty"`
	ExpectedParent string   `json:"expected_parent,omitempty"`
	ChangeIDs      []uint64 `json:"change_ids,omitempty"`
}

type CommitResult struct {
	CommitID    string    `json:"commit_id"`
	ChangeCount int       `json:"change_count"`
	Parent      *string   `json:"parent"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func newCommitResult(c history.Commit) CommitResult {
	r := CommitResult{
		CommitID:    c.ID,
		ChangeCount: len(c.Changes),
		Message:     c.Message,
		Timestamp:   c.Timestamp,
	}
	if c.Parent != "" {
		parent := c.Parent
		r.Parent = &parent
	}
	return r
}

func (e *Engine) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return CommitResult{}, err
	}
	c, err := commit.Create(ctx, h, commit.Request{
		Message:        req.Message,
		AgentID:        req.AgentID,
		Author:         req.Author,
		ExpectedParent: req.ExpectedParent,
		ChangeIDs:      req.ChangeIDs,
	})
	if err != nil {
		return CommitResult{}, err
	}
	return newCommitResult(c), nil
}

type LogRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

type LogResult struct {
	SessionID string             `json:"session_id"`
	Commits   []history.LogEntry `json:"commits"`
	Showing   int                `json:"showing"`
}

// Log lists history from the head backward. A limit <= 0 lists all of it.
func (e *Engine) Log(ctx context.Context, req LogRequest) (LogResult, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return LogResult{}, err
	}

	res := LogResult{SessionID: h.ID, Commits: []history.LogEntry{}}
	for c, err := range h.History.Log(req.Limit) {
		if err != nil {
			return LogResult{}, err
		}
		if err := ctx.Err(); err != nil {
			return LogResult{}, err
		}
		res.Commits = append(res.Commits, history.NewLogEntry(c, req.Verbose))
	}
	res.Showing = len(res.Commits)
	return res, nil
}

type RollbackRequest struct {
	SessionID string `json:"session_id,omitempty"`
	CommitID  string `json:"commit_id"`
	Execute   bool   `json:"execute,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

type RollbackResult struct {
	ChangeSet   rollback.ChangeSet `json:"change_set"`
	Executed    bool               `json:"executed"`
	NewCommitID string             `json:"new_commit_id,omitempty"`
	Results     []rollback.Result  `json:"results,omitempty"`
	Warning     string             `json:"warning,omitempty"`
}

// Rollback computes the operations that restore the tracked files to
// their state at req.CommitID. Without Execute nothing is touched. With
// Execute the operations are applied and recorded as a new commit; a
// failed operation stops the rest and leaves history unchanged.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) (RollbackResult, error) {
	h, err := e.session(ctx, req.SessionID)
	if err != nil {
		return RollbackResult{}, err
	}
	if strings.TrimSpace(req.CommitID) == "" {
		return RollbackResult{}, gerrors.InvalidParams("commit_id is required")
	}
	target, err := h.History.Resolve(req.CommitID)
	if err != nil {
		return RollbackResult{}, err
	}

	if !req.Execute {
		cs, _, err := plan(h, target)
		if err != nil {
			return RollbackResult{}, err
		}
		return RollbackResult{
			ChangeSet: cs,
			Warning:   "preview only, set execute to apply",
		}, nil
	}

	h.CommitMu.Lock()
	defer h.CommitMu.Unlock()

	cs, headTree, err := plan(h, target)
	if err != nil {
		return RollbackResult{}, err
	}
	res := RollbackResult{ChangeSet: cs, Executed: true}
	if cs.Empty() {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return RollbackResult{}, err
	}

	res.Results, err = rollback.Apply(h.FS, cs)
	if err != nil {
		res.Executed = false
		h.Logger.Warn("rollback aborted",
			zap.String("target", target),
			zap.Error(err))
		return res, err
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = h.Tracker.DefaultAgentID()
	}
	c, err := commit.Build(cs.Head, fmt.Sprintf("rollback to %s", history.ShortID(target)), agentID, "", h.Now(), cs.Changes(headTree))
	if err != nil {
		return res, err
	}
	if err := h.History.Append(c); err != nil {
		return res, err
	}
	res.NewCommitID = c.ID

	h.Logger.Info("rollback applied",
		zap.String("target", target),
		zap.String("commit_id", c.ID),
		zap.Int("operations", len(cs.Ops)))
	return res, nil
}

func plan(h *session.Handle, target string) (rollback.ChangeSet, history.Tree, error) {
	head := h.History.Head()
	ok, err := h.History.IsAncestor(target, head)
	if err != nil {
		return rollback.ChangeSet{}, nil, err
	}
	if !ok {
		return rollback.ChangeSet{}, nil, gerrors.NotAnAncestor(target, head)
	}

	commits, err := h.History.Range(target, head)
	if err != nil {
		return rollback.ChangeSet{}, nil, err
	}
	targetTree, err := h.History.TreeAt(target)
	if err != nil {
		return rollback.ChangeSet{}, nil, err
	}
	headTree, err := h.History.TreeAt(head)
	if err != nil {
		return rollback.ChangeSet{}, nil, err
	}

	cs, err := rollback.Plan(target, head, commits, targetTree, headTree, h.Blobs.Get)
	if err != nil {
		return rollback.ChangeSet{}, nil, err
	}
	return cs, headTree, nil
}

func (e *Engine) session(ctx context.Context, id string) (*session.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.sessions.Get(id)
}
