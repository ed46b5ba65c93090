// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backendrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error. Errors raised by the backend's storage logic use
// Code ErrBackend and carry a status code describing the failure category.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Status  codes.Code `json:"status,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == ErrBackend {
		return fmt.Sprintf("backend %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603

	// ErrBackend marks an application error; see Error.Status.
	ErrBackend = -32000
)

// Errorf returns a backend application error with the given status code.
func Errorf(code codes.Code, format string, args ...any) *Error {
	return &Error{
		Code:    ErrBackend,
		Message: fmt.Sprintf(format, args...),
		Status:  code,
	}
}

// StatusCode extracts the backend status code from err. Errors that never
// reached the backend report codes.Unavailable; JSON-RPC protocol errors and
// anything else unclassifiable report codes.Unknown.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case ErrBackend:
			return rpcErr.Status
		case ErrInvalidParams:
			return codes.InvalidArgument
		case ErrMethodNotFound:
			return codes.Unimplemented
		}
		return codes.Unknown
	}
	var te *TransportError
	if errors.As(err, &te) {
		return codes.Unavailable
	}
	return codes.Unknown
}

// TransportError reports a failure to reach the backend or to read its
// response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamMessage frames one message of a server stream.
type StreamMessage struct {
	Type  string          `json:"type"`
	Item  json.RawMessage `json:"item,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

const (
	StreamMsgItem  = "item"
	StreamMsgEnd   = "end"
	StreamMsgError = "error"
)
