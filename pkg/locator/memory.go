// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locator

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Memory is an in-process store for mem:// locators. The same Memory can be
// shared by a backend and its clients.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Bytes returns a copy of the content stored at loc.
func (m *Memory) Bytes(loc string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[loc]
	if !ok {
		return nil, false
	}
	return bytes.Clone(b), true
}

// Put replaces the content at loc.
func (m *Memory) Put(loc string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[loc] = bytes.Clone(b)
}

type memAppender struct {
	m      *Memory
	loc    string
	closed bool
}

func (a *memAppender) Write(p []byte) (int, error) {
	if a.closed {
		return 0, io.ErrClosedPipe
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.blobs[a.loc] = append(a.m.blobs[a.loc], p...)
	return len(p), nil
}

func (a *memAppender) Size() (int64, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return int64(len(a.m.blobs[a.loc])), nil
}

func (a *memAppender) Close() error {
	a.closed = true
	return nil
}

func (m *Memory) OpenAppend(ctx context.Context, loc string) (Appender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[loc]; !ok {
		m.blobs[loc] = nil
	}
	return &memAppender{m: m, loc: loc}, nil
}

type memOverwriter struct {
	m   *Memory
	loc string
	buf bytes.Buffer
}

func (w *memOverwriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memOverwriter) Close() error {
	w.m.Put(w.loc, w.buf.Bytes())
	return nil
}

func (m *Memory) OpenOverwrite(ctx context.Context, loc string) (io.WriteCloser, error) {
	return &memOverwriter{m: m, loc: loc}, nil
}

type memReader struct {
	*bytes.Reader
}

func (r memReader) Close() error { return nil }

func (m *Memory) OpenRead(ctx context.Context, loc string) (Reader, error) {
	b, ok := m.Bytes(loc)
	if !ok {
		return nil, ErrNotExist
	}
	return memReader{bytes.NewReader(b)}, nil
}

func (m *Memory) Remove(ctx context.Context, loc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[loc]; !ok {
		return ErrNotExist
	}
	delete(m.blobs, loc)
	return nil
}
