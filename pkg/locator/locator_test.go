// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func writeAll(t *testing.T, w io.WriteCloser, s string) {
	t.Helper()
	if _, err := io.WriteString(w, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func readAll(t *testing.T, o Opener, loc string) string {
	t.Helper()
	r, err := o.OpenRead(context.Background(), loc)
	if err != nil {
		t.Fatalf("OpenRead(%q): %v", loc, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if int64(len(b)) != r.Size() {
		t.Fatalf("Size() = %d, read %d bytes", r.Size(), len(b))
	}
	return string(b)
}

func testOpener(t *testing.T, o Opener, loc string) {
	ctx := context.Background()

	if _, err := o.OpenRead(ctx, loc); !errors.Is(err, ErrNotExist) {
		t.Fatalf("OpenRead before write = %v, want ErrNotExist", err)
	}

	// Each append opens the same logical stream.
	for _, chunk := range []string{"hello ", "world"} {
		a, err := o.OpenAppend(ctx, loc)
		if err != nil {
			t.Fatalf("OpenAppend: %v", err)
		}
		writeAll(t, a, chunk)
	}
	a, err := o.OpenAppend(ctx, loc)
	if err != nil {
		t.Fatalf("OpenAppend: %v", err)
	}
	n, err := a.Size()
	a.Close()
	if err != nil || n != 11 {
		t.Fatalf("Size() = %d, %v; want 11", n, err)
	}
	if got := readAll(t, o, loc); got != "hello world" {
		t.Fatalf("content = %q", got)
	}

	w, err := o.OpenOverwrite(ctx, loc)
	if err != nil {
		t.Fatalf("OpenOverwrite: %v", err)
	}
	writeAll(t, w, "bye")
	if got := readAll(t, o, loc); got != "bye" {
		t.Fatalf("content after overwrite = %q", got)
	}

	rm, ok := o.(Remover)
	if !ok {
		t.Fatalf("%T does not implement Remover", o)
	}
	if err := rm.Remove(ctx, loc); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := rm.Remove(ctx, loc); !errors.Is(err, ErrNotExist) {
		t.Fatalf("second Remove = %v, want ErrNotExist", err)
	}
}

func TestFiles(t *testing.T) {
	testOpener(t, Files{}, filepath.Join(t.TempDir(), "blobs", "data"))
}

func TestFilesURL(t *testing.T) {
	testOpener(t, Files{}, "file://"+filepath.Join(t.TempDir(), "data"))
}

func TestMemory(t *testing.T) {
	testOpener(t, NewMemory(), "mem://uploads/abc")
}

func TestMux(t *testing.T) {
	m := NewMemory()
	mux := NewMux(m)
	testOpener(t, mux, "mem://x")
	testOpener(t, mux, filepath.Join(t.TempDir(), "y"))

	w, err := mux.OpenOverwrite(context.Background(), "mem://z")
	if err != nil {
		t.Fatalf("OpenOverwrite: %v", err)
	}
	writeAll(t, w, "zz")
	if b, ok := m.Bytes("mem://z"); !ok || string(b) != "zz" {
		t.Fatalf("mux did not route mem:// to Memory: %q %v", b, ok)
	}
}

func TestOverwriteInvisibleUntilClose(t *testing.T) {
	m := NewMemory()
	m.Put("mem://m", []byte("old"))
	w, err := m.OpenOverwrite(context.Background(), "mem://m")
	if err != nil {
		t.Fatalf("OpenOverwrite: %v", err)
	}
	io.WriteString(w, "new")
	if got := readAll(t, m, "mem://m"); got != "old" {
		t.Fatalf("content before Close = %q, want old", got)
	}
	w.Close()
	if got := readAll(t, m, "mem://m"); got != "new" {
		t.Fatalf("content after Close = %q, want new", got)
	}
}

func TestScheme(t *testing.T) {
	for loc, want := range map[string]string{
		"mem://a":   "mem",
		"file:///x": "file",
		"/var/data": "",
		"":          "",
	} {
		if got := Scheme(loc); got != want {
			t.Errorf("Scheme(%q) = %q, want %q", loc, got, want)
		}
	}
}
