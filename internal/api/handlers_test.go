package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gitent/internal/config"
	"gitent/internal/engine"
	gerrors "gitent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.InMemory = true
	e := engine.New(cfg, nil)
	t.Cleanup(func() { e.Close() })
	return NewHandler(e, nil)
}

func rpc(t *testing.T, h *Handler, method string, params any) *Response {
	t.Helper()
	raw := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		raw["params"] = params
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	return h.HandleMessage(context.Background(), data)
}

// callTool runs a tool and decodes the JSON text of its result.
func callTool(t *testing.T, h *Handler, name string, args map[string]any) (map[string]any, *RPCError) {
	t.Helper()
	resp := rpc(t, h, "tools/call", map[string]any{"name": name, "arguments": args})
	require.NotNil(t, resp)
	if resp.Error != nil {
		return nil, resp.Error
	}
	result, ok := resp.Result.(ToolResult)
	require.True(t, ok, "unexpected result type %T", resp.Result)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &out))
	return out, nil
}

func TestProtocolMethods(t *testing.T) {
	h := setupHandler(t)

	resp := rpc(t, h, "initialize", map[string]any{})
	require.Nil(t, resp.Error)
	info := resp.Result.(map[string]any)
	assert.Equal(t, ProtocolVersion, info["protocolVersion"])

	resp = rpc(t, h, "ping", nil)
	assert.Nil(t, resp.Error)

	resp = rpc(t, h, "tools/list", nil)
	require.Nil(t, resp.Error)
	tools := resp.Result.(map[string]any)["tools"].([]Tool)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Equal(t, []string{
		"gitent_init", "gitent_status", "gitent_track", "gitent_commit",
		"gitent_log", "gitent_diff", "gitent_rollback",
	}, names)

	// Notifications get no response.
	assert.Nil(t, h.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
}

func TestProtocolErrors(t *testing.T) {
	h := setupHandler(t)

	tests := []struct {
		name string
		data string
		code int
	}{
		{"parse error", `{"jsonrpc":`, CodeParseError},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"tools/destroy"}`, CodeMethodNotFound},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"gitent_push"}}`, -32602},
		{"bad arguments", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"gitent_log","arguments":{"limit":"ten"}}}`, -32602},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.HandleMessage(context.Background(), []byte(tt.data))
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestToolWorkflow(t *testing.T) {
	h := setupHandler(t)
	root := t.TempDir()

	_, rpcErr := callTool(t, h, "gitent_status", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypeNoSession), rpcErr.Code)

	out, rpcErr := callTool(t, h, "gitent_init", map[string]any{"path": root})
	require.Nil(t, rpcErr)
	assert.Equal(t, true, out["started"])
	assert.Nil(t, out["head_commit_id"])
	sid := out["session_id"].(string)

	out, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "a.txt", "change_type": "create", "content": "one\n"})
	require.Nil(t, rpcErr)
	assert.Equal(t, float64(1), out["sequence_number"])

	_, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "b.txt", "change_type": "modify"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypeMissingContent), rpcErr.Code)

	_, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "../b.txt", "change_type": "delete"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypePathOutOfScope), rpcErr.Code)

	// Empty content is content.
	_, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "empty.txt", "change_type": "create", "content": ""})
	require.Nil(t, rpcErr)

	out, rpcErr = callTool(t, h, "gitent_commit", map[string]any{"session_id": sid, "message": "first"})
	require.Nil(t, rpcErr)
	assert.Equal(t, float64(2), out["change_count"])
	first := out["commit_id"].(string)

	_, rpcErr = callTool(t, h, "gitent_commit", map[string]any{"message": "again"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypeEmptyCommit), rpcErr.Code)

	_, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "a.txt", "change_type": "modify", "content": "two\n"})
	require.Nil(t, rpcErr)
	out, rpcErr = callTool(t, h, "gitent_diff", nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, "unified", out["format"])
	assert.Contains(t, out["unified"], "-one\n+two\n")

	_, rpcErr = callTool(t, h, "gitent_commit", map[string]any{"message": "second", "expected_parent": first})
	require.Nil(t, rpcErr)

	out, rpcErr = callTool(t, h, "gitent_log", map[string]any{"verbose": true})
	require.Nil(t, rpcErr)
	assert.Equal(t, float64(2), out["showing"])
	commits := out["commits"].([]any)
	assert.Equal(t, "second", commits[0].(map[string]any)["message"])
	assert.NotNil(t, commits[0].(map[string]any)["changes"])

	out, rpcErr = callTool(t, h, "gitent_log", map[string]any{"limit": 1})
	require.Nil(t, rpcErr)
	assert.Equal(t, float64(1), out["showing"])

	out, rpcErr = callTool(t, h, "gitent_rollback", map[string]any{"commit_id": first[:8]})
	require.Nil(t, rpcErr)
	assert.Equal(t, false, out["executed"])
	ops := out["change_set"].(map[string]any)["operations"].([]any)
	require.Len(t, ops, 1)
	assert.Equal(t, "write", ops[0].(map[string]any)["op"])
	assert.Equal(t, "one\n", ops[0].(map[string]any)["content"])

	_, rpcErr = callTool(t, h, "gitent_rollback", map[string]any{"commit_id": "feedface"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypeUnknownCommit), rpcErr.Code)
}

func TestLogWithoutLimitListsEverything(t *testing.T) {
	h := setupHandler(t)
	_, rpcErr := callTool(t, h, "gitent_init", map[string]any{"path": t.TempDir()})
	require.Nil(t, rpcErr)

	for i := 0; i < 12; i++ {
		_, rpcErr = callTool(t, h, "gitent_track", map[string]any{"path": "a.txt", "change_type": "modify", "content": fmt.Sprintf("v%d\n", i)})
		require.Nil(t, rpcErr)
		_, rpcErr = callTool(t, h, "gitent_commit", map[string]any{"message": fmt.Sprintf("commit %d", i)})
		require.Nil(t, rpcErr)
	}

	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"no arguments", nil, 12},
		{"no limit", map[string]any{"verbose": false}, 12},
		{"zero limit", map[string]any{"limit": 0}, 12},
		{"limit", map[string]any{"limit": 10}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, rpcErr := callTool(t, h, "gitent_log", tt.args)
			require.Nil(t, rpcErr)
			assert.Equal(t, float64(tt.want), out["showing"])
			assert.Len(t, out["commits"], tt.want)
		})
	}
}

func TestHTTPTransport(t *testing.T) {
	h := setupHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":"a","method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	var body struct {
		ID     string    `json:"id"`
		Result any       `json:"result"`
		Error  *RPCError `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "a", body.ID)
	assert.Nil(t, body.Error)

	resp, err = http.Get(srv.URL + "/rpc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeStdio(t *testing.T) {
	h := setupHandler(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n")
	var out bytes.Buffer
	require.NoError(t, h.Serve(context.Background(), strings.NewReader(in), &out))

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		responses = append(responses, r)
	}
	require.Len(t, responses, 3)
	assert.Equal(t, "1", string(responses[0].ID))
	assert.Nil(t, responses[0].Error)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, CodeParseError, responses[1].Error.Code)
	assert.Equal(t, "2", string(responses[2].ID))
}
