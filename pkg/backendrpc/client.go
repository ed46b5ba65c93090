// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backendrpc is the client side of the registry backend's RPC
// surface. Unary calls are JSON-RPC 2.0 requests over HTTP; server streams
// run over websocket connections that are pooled and reused between calls.
package backendrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("backendrpc: client closed")

const (
	defaultPoolSize  = 16
	defaultIdleConns = 4
)

type Client struct {
	baseURL string
	wsURL   string

	httpClient *http.Client
	wsDialer   *websocket.Dialer
	streams    *streamPool
	logger     *log.Logger

	nextID uint64
	closed atomic.Bool
}

type Option func(*Client)

// WithHTTPClient sets the client used for unary calls. Its transport is the
// connection pool for those calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPool bounds the number of concurrent stream connections to size and
// keeps up to idle of them open between calls.
func WithPool(size, idle int) Option {
	return func(c *Client) {
		if size <= 0 {
			size = defaultPoolSize
		}
		if idle < 0 {
			idle = 0
		}
		c.streams = newStreamPool(size, idle, c.dialStream)
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the backend at addr, given either as
// host:port or as an http(s) URL.
func NewClient(addr string, opts ...Option) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	ws := "ws" + strings.TrimPrefix(base, "http")
	c := &Client{
		baseURL: base,
		wsURL:   ws,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultPoolSize,
				MaxIdleConnsPerHost: defaultPoolSize,
			},
		},
		wsDialer: &websocket.Dialer{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: log.Default(),
	}
	c.streams = newStreamPool(defaultPoolSize, defaultIdleConns, c.dialStream)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Addr returns the backend base URL.
func (c *Client) Addr() string {
	return c.baseURL
}

// Close releases pooled connections. Calls in flight complete; later calls
// fail with ErrClientClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return c.streams.close()
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (c *Client) newRequest(method string, params any) (Request, error) {
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      []byte(fmt.Sprintf("%d", atomic.AddUint64(&c.nextID, 1))),
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return req, err
		}
		req.Params = b
	}
	return req, nil
}

// Call invokes a unary method and decodes its result into out. Backend
// failures are returned as *Error; failures to reach the backend as
// *TransportError.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: method, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return &TransportError{Op: method, Err: fmt.Errorf("rpc status %d: %s", resp.StatusCode, bytes.TrimSpace(b))}
	}
	var rpcResp rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &TransportError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &TransportError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (c *Client) dialStream(ctx context.Context) (*websocket.Conn, error) {
	c.logger.Debug("dialing backend stream", "url", c.wsURL)
	conn, resp, err := c.wsDialer.DialContext(ctx, c.wsURL+"/rpc/stream", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Stream invokes a server-streaming method and calls fn for each item in
// order. It returns once the stream has ended, the backend reported an error,
// fn returned an error, or the transport failed.
func (c *Client) Stream(ctx context.Context, method string, params any, fn func(json.RawMessage) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	// A pooled connection may have been closed by the backend while idle.
	// Streams are read-only, so the request is reissued once on a fresh dial
	// when a reused connection fails before delivering anything.
	for attempt := 0; ; attempt++ {
		conn, reused, err := c.streams.get(ctx)
		if err != nil {
			if errors.Is(err, ErrClientClosed) {
				return err
			}
			return &TransportError{Op: method, Err: err}
		}
		delivered, reuse, err := c.runStream(ctx, conn, req, fn)
		c.streams.put(conn, reuse)
		if err != nil && reused && !delivered && attempt == 0 && isTransport(err) && ctx.Err() == nil {
			c.logger.Debug("retrying stream on fresh connection", "method", method, "err", err)
			continue
		}
		return err
	}
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func (c *Client) runStream(ctx context.Context, conn *websocket.Conn, req Request, fn func(json.RawMessage) error) (delivered, reuse bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		if !stop() {
			reuse = false
			if err != nil && ctx.Err() != nil {
				err = ctx.Err()
			}
		}
	}()

	if err := conn.WriteJSON(req); err != nil {
		return false, false, &TransportError{Op: req.Method, Err: err}
	}
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return delivered, false, &TransportError{Op: req.Method, Err: err}
		}
		switch msg.Type {
		case StreamMsgItem:
			delivered = true
			if err := fn(msg.Item); err != nil {
				return true, false, err
			}
		case StreamMsgEnd:
			return delivered, true, nil
		case StreamMsgError:
			if msg.Error == nil {
				return delivered, true, &Error{Code: ErrInternal, Message: "stream failed"}
			}
			return delivered, true, msg.Error
		default:
			return delivered, false, &TransportError{Op: req.Method, Err: fmt.Errorf("unexpected stream message %q", msg.Type)}
		}
	}
}
