// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"fmt"

	gerrors "gitent/internal/errors"
	"gitent/internal/engine"
	"gitent/internal/logging"

	"go.uber.org/zap"
)

const (
	Version         = "2.0"
	ProtocolVersion = "2024-11-05"
	ServerName      = "gitent"
	ServerVersion   = "0.1.0"
)

// Protocol error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// errorData is attached to errors raised by the engine.
type errorData struct {
	Type    gerrors.ErrorType `json:"type"`
	Path    string            `json:"path,omitempty"`
	Details any               `json:"details,omitempty"`
}

// toRPCError maps an engine error onto its stable code.
func toRPCError(err error) *RPCError {
	var e *gerrors.Error
	if !gerrors.As(err, &e) {
		return &RPCError{
			Code:    gerrors.CodeFor(gerrors.ErrorTypeInternal),
			Message: err.Error(),
			Data:    errorData{Type: gerrors.ErrorTypeInternal},
		}
	}
	return &RPCError{
		Code:    e.Code,
		Message: e.Error(),
		Data:    errorData{Type: e.Type, Path: e.Path, Details: e.Details},
	}
}

// Handler serves the JSON-RPC methods over an Engine.
type Handler struct {
	engine *engine.Engine
	logger *logging.Logger
}

func NewHandler(e *engine.Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{engine: e, logger: logger}
}

// HandleMessage decodes one raw request and dispatches it. It returns
// nil for notifications.
func (h *Handler) HandleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: Version,
			ID:      json.RawMessage("null"),
			Error:   &RPCError{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)},
		}
	}
	return h.Handle(ctx, req)
}

// Handle dispatches req. Panics become internal errors.
func (h *Handler) Handle(ctx context.Context, req Request) (resp *Response) {
	log := h.logger.WithRequestID(ctx)

	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered", zap.String("method", req.Method), zap.Any("error", r))
			resp = &Response{
				JSONRPC: Version,
				ID:      id,
				Error:   &RPCError{Code: gerrors.CodeFor(gerrors.ErrorTypeInternal), Message: fmt.Sprintf("internal error: %v", r)},
			}
		}
	}()

	if req.JSONRPC != Version || req.Method == "" {
		return &Response{JSONRPC: Version, ID: id, Error: &RPCError{Code: CodeInvalidRequest, Message: "invalid request"}}
	}

	result, rpcErr := h.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		log.Debug("request failed",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
			zap.String("error", rpcErr.Message))
		return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func (h *Handler) dispatch(ctx context.Context, req Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": ServerVersion},
		}, nil
	case "ping", "notifications/initialized":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": Tools()}, nil
	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, toRPCError(gerrors.InvalidParams(fmt.Sprintf("decoding params: %v", err)))
		}
		result, err := h.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, toRPCError(err)
		}
		text, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, toRPCError(gerrors.Internal("encoding result", err))
		}
		return ToolResult{Content: []Content{{Type: "text", Text: string(text)}}}, nil
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

// ToolResult is the tools/call result envelope.
type ToolResult struct {
	Content []Content `json:"content"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
