// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package locator opens the destinations a registry backend hands out for
// blob and manifest content. A locator is an opaque string; an Opener decides
// how to turn it into a reader or writer.
package locator

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotExist is returned when reading a locator that has no content.
var ErrNotExist = errors.New("locator: does not exist")

// Appender writes to the end of a destination.
type Appender interface {
	io.WriteCloser
	// Size reports the destination's current total length.
	Size() (int64, error)
}

// Reader reads a destination from the beginning.
type Reader interface {
	io.ReadCloser
	Size() int64
}

type Opener interface {
	// OpenAppend opens loc for appending, creating it if needed.
	OpenAppend(ctx context.Context, loc string) (Appender, error)
	// OpenOverwrite opens loc for writing, replacing any existing content
	// once the returned writer is closed.
	OpenOverwrite(ctx context.Context, loc string) (io.WriteCloser, error)
	OpenRead(ctx context.Context, loc string) (Reader, error)
}

// Remover is implemented by Openers that can delete a destination.
type Remover interface {
	Remove(ctx context.Context, loc string) error
}

// Scheme returns the scheme of loc ("mem", "file", ...) or "" when loc has
// none.
func Scheme(loc string) string {
	scheme, _, ok := strings.Cut(loc, "://")
	if !ok {
		return ""
	}
	return scheme
}

// Mux dispatches to an Opener by locator scheme. Locators without a
// registered scheme go to Default.
type Mux struct {
	Schemes map[string]Opener
	Default Opener
}

// NewMux returns a Mux that serves mem:// from m and everything else from
// the filesystem.
func NewMux(m *Memory) *Mux {
	return &Mux{
		Schemes: map[string]Opener{"mem": m},
		Default: Files{},
	}
}

func (m *Mux) pick(loc string) (Opener, error) {
	if o, ok := m.Schemes[Scheme(loc)]; ok {
		return o, nil
	}
	if m.Default == nil {
		return nil, errors.New("locator: no opener for " + loc)
	}
	return m.Default, nil
}

func (m *Mux) OpenAppend(ctx context.Context, loc string) (Appender, error) {
	o, err := m.pick(loc)
	if err != nil {
		return nil, err
	}
	return o.OpenAppend(ctx, loc)
}

func (m *Mux) OpenOverwrite(ctx context.Context, loc string) (io.WriteCloser, error) {
	o, err := m.pick(loc)
	if err != nil {
		return nil, err
	}
	return o.OpenOverwrite(ctx, loc)
}

func (m *Mux) OpenRead(ctx context.Context, loc string) (Reader, error) {
	o, err := m.pick(loc)
	if err != nil {
		return nil, err
	}
	return o.OpenRead(ctx, loc)
}

func (m *Mux) Remove(ctx context.Context, loc string) error {
	o, err := m.pick(loc)
	if err != nil {
		return err
	}
	r, ok := o.(Remover)
	if !ok {
		return errors.ErrUnsupported
	}
	return r.Remove(ctx, loc)
}
