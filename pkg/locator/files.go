// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locator

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Files treats locators as filesystem paths, optionally prefixed with
// file://.
type Files struct{}

func filePath(loc string) string {
	return strings.TrimPrefix(loc, "file://")
}

type appendFile struct {
	*os.File
}

func (f appendFile) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (Files) OpenAppend(ctx context.Context, loc string) (Appender, error) {
	p := filePath(loc)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return appendFile{f}, nil
}

// overwriteFile writes to a temporary file and moves it into place on Close
// so readers never observe a partially written destination.
type overwriteFile struct {
	*os.File
	dst string
}

func (f *overwriteFile) Close() (err error) {
	tmp := f.File.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	if err := f.File.Sync(); err != nil {
		f.File.Close()
		return err
	}
	if err := f.File.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.dst)
}

func (Files) OpenOverwrite(ctx context.Context, loc string) (io.WriteCloser, error) {
	p := filePath(loc)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &overwriteFile{File: f, dst: p}, nil
}

type readFile struct {
	*os.File
	size int64
}

func (f readFile) Size() int64 { return f.size }

func (Files) OpenRead(ctx context.Context, loc string) (Reader, error) {
	f, err := os.Open(filePath(loc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return readFile{File: f, size: st.Size()}, nil
}

func (Files) Remove(ctx context.Context, loc string) error {
	err := os.Remove(filePath(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return err
}
