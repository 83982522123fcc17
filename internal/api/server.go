package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitent/internal/logging"
	"gitent/internal/middleware"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxMessageSize bounds one request, for stdio lines and HTTP bodies.
const maxMessageSize = 64 << 20

// Routes returns the HTTP transport: POST /rpc and GET /health.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheck)
	mux.HandleFunc("POST /rpc", h.ServeRPC)

	return middleware.Chain(
		mux,
		middleware.Recover(h.logger),
		middleware.Logger(h.logger),
		middleware.RequestID,
	)
}

// ServeRPC handles one JSON-RPC request per HTTP request.
func (h *Handler) ServeRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	resp := h.HandleMessage(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}

// Serve runs the stdio transport: one JSON request per line on in, one
// JSON response per line on out. It returns when in is exhausted or ctx
// is done.
func (h *Handler) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	enc := json.NewEncoder(out)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		reqCtx := logging.ContextWithRequestID(ctx, uuid.New().String())
		resp := h.HandleMessage(reqCtx, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Error("reading stdin", zap.Error(err))
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}
