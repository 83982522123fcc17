// internal/session/session.go
package session

import (
	"sync"
	"time"

	"gitent/internal/change"
	"gitent/internal/history"
	"gitent/internal/safe"
	"gitent/internal/workspace"

	"go.uber.org/zap"
)

// Session is the persisted record of a tracking session.
type Session struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) GetID() string { return s.ID }

// rootRecord maps a root path to its session id.
type rootRecord struct {
	Root      string `json:"root"`
	SessionID string `json:"session_id"`
}

func (r rootRecord) GetID() string { return r.Root }

// Handle is a live session: its record plus the stores behind it.
type Handle struct {
	Session

	Blobs   *safe.Safe
	History *history.Store
	Tracker *change.Tracker
	FS      workspace.FS
	Now     func() time.Time
	Logger  *zap.Logger

	// CommitMu serializes the read-compute-append section of commit
	// and of an executed rollback.
	CommitMu sync.Mutex

	dbPath string
}

// Status is the summary returned by status.
type Status struct {
	SessionID    string                 `json:"session_id"`
	Root         string                 `json:"root_path"`
	PendingCount int                    `json:"pending_count"`
	Head         *string                `json:"head_commit_id"`
	PendingPaths []string               `json:"pending_paths"`
	Changes      []change.TrackedChange `json:"changes,omitempty"`
}

// Status reports the pending list and head. Verbose includes every
// pending entry, without content.
func (h *Handle) Status(verbose bool) Status {
	st := Status{
		SessionID:    h.ID,
		Root:         h.Root,
		PendingCount: h.Tracker.Len(),
		PendingPaths: h.Tracker.Paths(),
	}
	if st.PendingPaths == nil {
		st.PendingPaths = []string{}
	}
	if head := h.History.Head(); head != "" {
		st.Head = &head
	}
	if verbose {
		for _, c := range h.Tracker.Pending() {
			c.Content = nil
			st.Changes = append(st.Changes, c)
		}
	}
	return st
}

// DBPath is where the session's database lives, empty when in memory.
func (h *Handle) DBPath() string {
	return h.dbPath
}
