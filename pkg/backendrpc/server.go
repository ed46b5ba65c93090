// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backendrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// UnaryFunc handles one unary method. Returning an *Error sends it verbatim;
// any other error is reported as ErrInternal.
type UnaryFunc func(ctx context.Context, params json.RawMessage) (any, error)

// StreamFunc handles one streaming method, calling send for each item.
type StreamFunc func(ctx context.Context, params json.RawMessage, send func(any) error) error

// Handler serves the JSON-RPC endpoint at /rpc and the stream endpoint at
// /rpc/stream.
type Handler struct {
	Unary   map[string]UnaryFunc
	Streams map[string]StreamFunc
	Logger  *log.Logger
}

var rpcUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/rpc":
		h.handleRPC(w, r)
	case "/rpc/stream":
		h.handleStreamWS(w, r)
	default:
		http.NotFound(w, r)
	}
}

func writeRPCResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, rpcErr *Error) {
	writeRPCResponse(w, Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	})
}

func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: ErrInternal, Message: err.Error()}
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Body == nil {
		writeRPCError(w, []byte("null"), &Error{Code: ErrInvalidRequest, Message: "empty body"})
		return
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		writeRPCError(w, []byte("null"), &Error{Code: ErrParseError, Message: "parse error", Data: err.Error()})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, &Error{Code: ErrInvalidRequest, Message: "invalid request"})
		return
	}
	if len(req.ID) == 0 {
		return // notification
	}
	fn, ok := h.Unary[req.Method]
	if !ok {
		writeRPCError(w, req.ID, &Error{Code: ErrMethodNotFound, Message: "method not found", Data: req.Method})
		return
	}
	result, err := fn(r.Context(), req.Params)
	if err != nil {
		h.logger().Debug("rpc failed", "method", req.Method, "err", err)
		writeRPCError(w, req.ID, toRPCError(err))
		return
	}
	writeRPCResponse(w, Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

// handleStreamWS serves stream requests sequentially on one connection until
// the client goes away.
func (h *Handler) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := rpcUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger().Debug("stream read failed", "err", err)
			}
			return
		}
		if err := h.serveStream(r.Context(), conn, req); err != nil {
			h.logger().Warn("stream write failed", "method", req.Method, "err", err)
			return
		}
	}
}

func (h *Handler) serveStream(ctx context.Context, conn *websocket.Conn, req Request) error {
	fn, ok := h.Streams[req.Method]
	if !ok {
		return conn.WriteJSON(StreamMessage{
			Type:  StreamMsgError,
			Error: &Error{Code: ErrMethodNotFound, Message: "method not found", Data: req.Method},
		})
	}
	var writeErr error
	err := fn(ctx, req.Params, func(item any) error {
		b, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := conn.WriteJSON(StreamMessage{Type: StreamMsgItem, Item: b}); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return conn.WriteJSON(StreamMessage{Type: StreamMsgError, Error: toRPCError(err)})
	}
	return conn.WriteJSON(StreamMessage{Type: StreamMsgEnd})
}
