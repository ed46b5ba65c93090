// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backendrpc

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// streamPool hands out websocket connections for streaming calls. At most
// size connections are checked out at once and up to maxIdle are kept open
// for reuse.
type streamPool struct {
	dial func(context.Context) (*websocket.Conn, error)
	sem  *semaphore.Weighted

	mu      sync.Mutex
	idle    []*websocket.Conn
	maxIdle int
	closed  bool
}

func newStreamPool(size, maxIdle int, dial func(context.Context) (*websocket.Conn, error)) *streamPool {
	return &streamPool{
		dial:    dial,
		sem:     semaphore.NewWeighted(int64(size)),
		maxIdle: maxIdle,
	}
}

// get returns a connection and whether it was reused from the idle list.
// Every successful get must be paired with a put.
func (p *streamPool) get(ctx context.Context) (*websocket.Conn, bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, false, ErrClientClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, true, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, false, err
	}
	return conn, false, nil
}

// put returns conn to the pool, closing it unless reuse is set and there is
// room on the idle list.
func (p *streamPool) put(conn *websocket.Conn, reuse bool) {
	defer p.sem.Release(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !reuse || p.closed || len(p.idle) >= p.maxIdle {
		conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
}

func (p *streamPool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *streamPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for _, conn := range p.idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle = nil
	return errors.Join(errs...)
}
