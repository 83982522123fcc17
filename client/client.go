// client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"gitent/internal/api"
	"gitent/internal/engine"
	gerrors "gitent/internal/errors"
	"gitent/internal/session"
)

// Client talks to a gitent server over its HTTP JSON-RPC endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// Call invokes method and decodes its result into result. Errors raised
// by the engine come back as *errors.Error with their original type.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": api.Version,
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Type    gerrors.ErrorType `json:"type"`
				Path    string            `json:"path"`
				Details json.RawMessage   `json:"details"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if e := envelope.Error; e != nil {
		if e.Data.Type == "" {
			return &api.RPCError{Code: e.Code, Message: e.Message}
		}
		out := &gerrors.Error{Type: e.Data.Type, Message: e.Message, Code: e.Code, Path: e.Data.Path}
		if len(e.Data.Details) > 0 {
			out.Details = e.Data.Details
		}
		return out
	}

	if result == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}

// CallTool invokes a tool and decodes the JSON text it returns.
func (c *Client) CallTool(ctx context.Context, name string, args, result any) error {
	var tr api.ToolResult
	if err := c.Call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &tr); err != nil {
		return err
	}
	if len(tr.Content) == 0 {
		return fmt.Errorf("%s returned no content", name)
	}
	return json.Unmarshal([]byte(tr.Content[0].Text), result)
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}

func (c *Client) Init(ctx context.Context, req engine.InitRequest) (engine.InitResult, error) {
	var out engine.InitResult
	err := c.CallTool(ctx, "gitent_init", req, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, req engine.StatusRequest) (session.Status, error) {
	var out session.Status
	err := c.CallTool(ctx, "gitent_status", req, &out)
	return out, err
}

func (c *Client) Track(ctx context.Context, req engine.TrackRequest) (engine.TrackResult, error) {
	args := map[string]any{
		"session_id":  req.SessionID,
		"path":        req.Path,
		"change_type": req.ChangeType,
		"old_path":    req.OldPath,
		"agent_id":    req.AgentID,
	}
	if req.Content != nil {
		args["content"] = string(req.Content)
	}
	var out engine.TrackResult
	err := c.CallTool(ctx, "gitent_track", args, &out)
	return out, err
}

func (c *Client) Commit(ctx context.Context, req engine.CommitRequest) (engine.CommitResult, error) {
	var out engine.CommitResult
	err := c.CallTool(ctx, "gitent_commit", req, &out)
	return out, err
}

// Log lists the whole history unless req.Limit is positive.
func (c *Client) Log(ctx context.Context, req engine.LogRequest) (engine.LogResult, error) {
	var out engine.LogResult
	err := c.CallTool(ctx, "gitent_log", req, &out)
	return out, err
}

func (c *Client) Diff(ctx context.Context, req engine.DiffRequest) (engine.DiffResult, error) {
	var out engine.DiffResult
	err := c.CallTool(ctx, "gitent_diff", req, &out)
	return out, err
}

func (c *Client) Rollback(ctx context.Context, req engine.RollbackRequest) (engine.RollbackResult, error) {
	var out engine.RollbackResult
	err := c.CallTool(ctx, "gitent_rollback", req, &out)
	return out, err
}
