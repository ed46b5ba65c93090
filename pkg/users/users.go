// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package users stores registry accounts in a sqlite database and checks
// basic-auth credentials against them.
package users

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserExists is returned by Create when the name is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned by Authorize for an unknown user, a
	// wrong password or an inactive account.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	saltLen = 16
	keyLen  = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	salt TEXT NOT NULL,
	hash TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);`

// User is a stored account. Hash is the hex encoded argon2id key.
type User struct {
	Name   string
	Salt   string
	Hash   string
	Active bool
}

// Store is a sqlite backed account table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// users table exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open users database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func hashPassword(password string, salt []byte) string {
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLen)
	return hex.EncodeToString(key)
}

// Create adds an active user with a freshly salted password hash.
func (s *Store) Create(ctx context.Context, name, password string) (*User, error) {
	if name == "" {
		return nil, errors.New("user name is empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	u := &User{
		Name:   name,
		Salt:   hex.EncodeToString(salt),
		Hash:   hashPassword(password, salt),
		Active: true,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE name = ?`, name).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (name, salt, hash, active) VALUES (?, ?, ?, 1)`,
		u.Name, u.Salt, u.Hash); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

// Authorize returns the user if name and password match an active account.
func (s *Store) Authorize(ctx context.Context, name, password string) (*User, error) {
	var (
		u      User
		active int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, salt, hash, active FROM users WHERE name = ? LIMIT 1`, name,
	).Scan(&u.Name, &u.Salt, &u.Hash, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	u.Active = active != 0
	salt, err := hex.DecodeString(u.Salt)
	if err != nil || u.Hash == "" {
		return nil, ErrInvalidCredentials
	}
	got := hashPassword(password, salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(u.Hash)) != 1 || !u.Active {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// SetActive enables or disables an account without touching its password.
func (s *Store) SetActive(ctx context.Context, name string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE name = ?`, v, name)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q not found", name)
	}
	return nil
}

// Delete removes name. Deleting an unknown user is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// List returns all user names in name order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type fileUsers struct {
	Users []struct {
		Name     string `yaml:"name"`
		Password string `yaml:"password"`
	} `yaml:"users"`
}

// LoadFile imports the users listed in a YAML file of the form
//
//	users:
//	  - name: alice
//	    password: secret
//
// Users that already exist are left unchanged. It returns the number of
// users created.
func (s *Store) LoadFile(ctx context.Context, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var f fileUsers
	if err := yaml.Unmarshal(b, &f); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	created := 0
	for _, u := range f.Users {
		_, err := s.Create(ctx, u.Name, u.Password)
		if errors.Is(err, ErrUserExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to create %q: %w", u.Name, err)
		}
		created++
	}
	return created, nil
}
