// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package users

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "users.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndAuthorize(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	u, err := s.Create(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(u.Salt) != 2*saltLen {
		t.Errorf("salt = %q, want %d hex characters", u.Salt, 2*saltLen)
	}
	if _, err := s.Create(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate Create error = %v, want ErrUserExists", err)
	}

	got, err := s.Authorize(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got.Name != "alice" || !got.Active {
		t.Errorf("Authorize = %+v", got)
	}

	for _, tc := range []struct{ name, pass string }{
		{"alice", "wrong"},
		{"bob", "hunter2"},
		{"alice", ""},
	} {
		if _, err := s.Authorize(ctx, tc.name, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authorize(%q, %q) error = %v, want ErrInvalidCredentials", tc.name, tc.pass, err)
		}
	}
}

func TestSaltsDiffer(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, err := s.Create(ctx, "a", "same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Create(ctx, "b", "same")
	if err != nil {
		t.Fatal(err)
	}
	if a.Salt == b.Salt || a.Hash == b.Hash {
		t.Errorf("two users with one password share salt or hash")
	}
}

func TestInactiveAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.Create(ctx, "carol", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive(ctx, "carol", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := s.Authorize(ctx, "carol", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive Authorize error = %v", err)
	}
	if err := s.SetActive(ctx, "carol", true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authorize(ctx, "carol", "pw"); err != nil {
		t.Fatalf("reactivated Authorize: %v", err)
	}
	if err := s.Delete(ctx, "carol"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "carol"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Authorize(ctx, "carol", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deleted Authorize error = %v", err)
	}
	if err := s.SetActive(ctx, "carol", true); err == nil {
		t.Fatal("SetActive on deleted user succeeded")
	}
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.Create(ctx, "alice", "original"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "users.yaml")
	data := "users:\n  - name: alice\n    password: changed\n  - name: bob\n    password: builder\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	n, err := s.LoadFile(ctx, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 1 {
		t.Errorf("created = %d, want 1", n)
	}
	names, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, names); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Authorize(ctx, "alice", "original"); err != nil {
		t.Errorf("existing user was modified: %v", err)
	}
	if _, err := s.Authorize(ctx, "bob", "builder"); err != nil {
		t.Errorf("imported user: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("users: [\n"), 0o600)
	if _, err := s.LoadFile(ctx, bad); err == nil {
		t.Error("LoadFile accepted malformed YAML")
	}
}
