// internal/change/types.go
package change

import (
	"fmt"
	"strings"
	"time"

	gerrors "gitent/internal/errors"
)

// Kind is the closed set of change kinds.
type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindRename Kind = "rename"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindCreate, KindModify, KindDelete, KindRename}

// ParseKind accepts the kind names case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", gerrors.InvalidParams(fmt.Sprintf("unknown change type %q (want create, modify, delete or rename)", s))
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindModify, KindDelete, KindRename:
		return true
	default:
		return false
	}
}

// NeedsContent reports whether a change of this kind must carry content.
func (k Kind) NeedsContent() bool {
	switch k {
	case KindCreate, KindModify:
		return true
	case KindDelete, KindRename:
		return false
	default:
		panic(fmt.Sprintf("change: unhandled kind %q", string(k)))
	}
}

// TrackedChange is one pending, uncommitted change record.
type TrackedChange struct {
	Seq        uint64    `json:"seq"`
	Path       string    `json:"path"`
	Kind       Kind      `json:"kind"`
	OldPath    string    `json:"old_path,omitempty"`
	Content    []byte    `json:"content,omitempty"`
	HasContent bool      `json:"has_content"`
	AgentID    string    `json:"agent_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// GetID keys pending entries so that key order is sequence order.
func (c TrackedChange) GetID() string {
	return seqKey(c.Seq)
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// Request describes a change to record.
type Request struct {
	Path    string
	Kind    Kind
	OldPath string
	// Content is nil when no content was supplied; an empty non-nil
	// slice is an empty file.
	Content []byte
	AgentID string
}
