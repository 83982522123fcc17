package api

import (
	"context"
	"encoding/json"
	"fmt"

	gerrors "gitent/internal/errors"
	"gitent/internal/engine"
)

// Tool describes one callable tool for tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

var sessionProp = prop("string", "Session to act on (defaults to the most recently initialized one)")

// Tools lists the tool definitions in a stable order.
func Tools() []Tool {
	return []Tool{
		{
			Name:        "gitent_init",
			Description: "Start tracking a directory, or reconnect to its existing session",
			InputSchema: schema(nil, map[string]any{
				"path":    prop("string", "Root directory to track (default: current directory)"),
				"db_path": prop("string", "Database directory (default: <path>/.gitent/db)"),
			}),
		},
		{
			Name:        "gitent_status",
			Description: "Show pending changes and the current head commit",
			InputSchema: schema(nil, map[string]any{
				"session_id": sessionProp,
				"verbose":    prop("boolean", "List every pending change"),
			}),
		},
		{
			Name:        "gitent_track",
			Description: "Record a file change made by the agent",
			InputSchema: schema([]string{"path", "change_type"}, map[string]any{
				"session_id": sessionProp,
				"path":       prop("string", "Path of the changed file, relative to the root"),
				"change_type": map[string]any{
					"type":        "string",
					"enum":        []string{"create", "modify", "delete", "rename"},
					"description": "Kind of change",
				},
				"content":  prop("string", "New file content (required for create and modify)"),
				"old_path": prop("string", "Previous path (required for rename)"),
				"agent_id": prop("string", "Agent making the change"),
			}),
		},
		{
			Name:        "gitent_commit",
			Description: "Commit the pending changes with a message",
			InputSchema: schema([]string{"message"}, map[string]any{
				"session_id":      sessionProp,
				"message":         prop("string", "Commit message"),
				"agent_id":        prop("string", "Agent creating the commit"),
				"author":          prop("string", "Author recorded in the commit"),
				"expected_parent": prop("string", "Fail unless this is the current head"),
				"change_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Sequence numbers of the pending changes to commit (default: all)",
				},
			}),
		},
		{
			Name:        "gitent_log",
			Description: "Show commit history, most recent first",
			InputSchema: schema(nil, map[string]any{
				"session_id": sessionProp,
				"limit":      prop("integer", "Maximum number of commits, e.g. 10 (default: all)"),
				"verbose":    prop("boolean", "Include parents, agents and changes"),
			}),
		},
		{
			Name:        "gitent_diff",
			Description: "View differences between commits, pending changes and the working files",
			InputSchema: schema(nil, map[string]any{
				"session_id": sessionProp,
				"from_ref":   prop("string", "Commit id or prefix, head, pending or working (default: head)"),
				"to_ref":     prop("string", "Commit id or prefix, head, pending or working (default: pending)"),
				"commit_id":  prop("string", "Show one commit against its parent"),
				"path":       prop("string", "Filter to a path, directory or glob"),
				"format": map[string]any{
					"type":        "string",
					"enum":        []string{engine.FormatUnified, engine.FormatStructured},
					"description": "Diff output format (default: unified)",
				},
				"working": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
					"description":          "Working contents by path, layered over the files on disk",
				},
			}),
		},
		{
			Name:        "gitent_rollback",
			Description: "Roll back to a previous commit (preview by default)",
			InputSchema: schema([]string{"commit_id"}, map[string]any{
				"session_id": sessionProp,
				"commit_id":  prop("string", "Commit id or prefix to roll back to"),
				"execute":    prop("boolean", "Apply the rollback (default: false, preview only)"),
				"agent_id":   prop("string", "Agent recorded in the rollback commit"),
			}),
		},
	}
}

type trackArgs struct {
	SessionID  string  `json:"session_id"`
	Path       string  `json:"path"`
	ChangeType string  `json:"change_type"`
	Content    *string `json:"content"`
	OldPath    string  `json:"old_path"`
	AgentID    string  `json:"agent_id"`
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return gerrors.InvalidParams(fmt.Sprintf("decoding arguments: %v", err))
	}
	return nil
}

// CallTool runs the named tool with raw JSON arguments.
func (h *Handler) CallTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "gitent_init":
		var req engine.InitRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Init(ctx, req)
	case "gitent_status":
		var req engine.StatusRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Status(ctx, req)
	case "gitent_track":
		var a trackArgs
		if err := decode(args, &a); err != nil {
			return nil, err
		}
		req := engine.TrackRequest{
			SessionID:  a.SessionID,
			Path:       a.Path,
			ChangeType: a.ChangeType,
			OldPath:    a.OldPath,
			AgentID:    a.AgentID,
		}
		if a.Content != nil {
			req.Content = append([]byte{}, *a.Content...)
		}
		return h.engine.Track(ctx, req)
	case "gitent_commit":
		var req engine.CommitRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Commit(ctx, req)
	case "gitent_log":
		var req engine.LogRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Log(ctx, req)
	case "gitent_diff":
		var req engine.DiffRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Diff(ctx, req)
	case "gitent_rollback":
		var req engine.RollbackRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		return h.engine.Rollback(ctx, req)
	default:
		return nil, gerrors.InvalidParams(fmt.Sprintf("unknown tool %q", name))
	}
}
