// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend is a self-contained registry storage backend serving the
// backendrpc protocol. Content lives behind a locator.Opener; the index of
// repositories, tags, manifests and history is kept in memory.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/distribution/reference"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
	"tailscale.com/syncs"
)

var (
	errUploadNotFound   = backendrpc.Errorf(codes.NotFound, "upload not found")
	errBlobNotFound     = backendrpc.Errorf(codes.NotFound, "blob not found")
	errManifestNotFound = backendrpc.Errorf(codes.NotFound, "manifest not found")
	errRepoNotFound     = backendrpc.Errorf(codes.NotFound, "repository not found")
)

// Backend stores blobs and manifests under a locator root.
type Backend struct {
	opener locator.Opener
	root   string
	log    *log.Logger
	now    func() time.Time

	uploads         syncs.Map[string, *upload]
	manifestUploads syncs.Map[string, *manifestUpload]

	mu    sync.RWMutex
	repos map[string]*repository

	stats stats
}

type upload struct {
	uuid string
	repo string
	loc  string
}

type manifestUpload struct {
	uuid      string
	repo      string
	reference string
	loc       string
}

type manifestMeta struct {
	contentType string
	size        int64
}

type historyEntry struct {
	digest string
	date   time.Time
}

type repository struct {
	blobs     map[string]int64
	manifests map[string]manifestMeta
	tags      map[string]string
	history   map[string][]historyEntry
}

func newRepository() *repository {
	return &repository{
		blobs:     make(map[string]int64),
		manifests: make(map[string]manifestMeta),
		tags:      make(map[string]string),
		history:   make(map[string][]historyEntry),
	}
}

// recordHistory notes that tag now points at d. A digest already in the
// history keeps its position and takes the new date.
func (r *repository) recordHistory(tag, d string, date time.Time) {
	h := r.history[tag]
	for i := range h {
		if h[i].digest == d {
			h[i].date = date
			return
		}
	}
	r.history[tag] = append(h, historyEntry{digest: d, date: date})
}

type stats struct {
	blobReads      atomic.Int64
	manifestReads  atomic.Int64
	manifestWrites atomic.Int64
	uploads        atomic.Int64
}

type Option func(*Backend)

func WithLogger(l *log.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithClock sets the clock used to date manifest history.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New returns a Backend that stores content below root, a locator prefix
// such as "mem://registry" or "/var/lib/trow".
func New(opener locator.Opener, root string, opts ...Option) *Backend {
	b := &Backend{
		opener: opener,
		root:   strings.TrimSuffix(root, "/"),
		log:    log.Default(),
		now:    time.Now,
		repos:  make(map[string]*repository),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) locate(parts ...string) string {
	return b.root + "/" + strings.Join(parts, "/")
}

func (b *Backend) blobLoc(d digest.Digest) string {
	return b.locate("blobs", string(d.Algorithm), d.Hex[0:2], d.Hex)
}

func (b *Backend) manifestLoc(d digest.Digest) string {
	return b.locate("manifests", string(d.Algorithm), d.Hex[0:2], d.Hex)
}

// repoDomain anchors repository names so the reference grammar parses
// every component as a path and never as a registry host.
const repoDomain = "trow.invalid"

// validateRepo checks name against the distribution naming rules.
func validateRepo(name string) error {
	if name == "" {
		return backendrpc.Errorf(codes.InvalidArgument, "empty repository name")
	}
	named, err := reference.ParseNamed(repoDomain + "/" + name)
	if err != nil {
		return backendrpc.Errorf(codes.InvalidArgument, "invalid repository name %q: %v", name, err)
	}
	if !reference.IsNameOnly(named) || reference.Domain(named) != repoDomain || reference.Path(named) != name {
		return backendrpc.Errorf(codes.InvalidArgument, "invalid repository name %q", name)
	}
	return nil
}

// parseReference splits ref into a tag or a digest.
func parseReference(repo, ref string) (tag string, d digest.Digest, err error) {
	if strings.Contains(ref, ":") {
		d, err := digest.Parse(ref)
		if err != nil {
			return "", digest.Digest{}, backendrpc.Errorf(codes.InvalidArgument, "invalid digest %q: %v", ref, err)
		}
		return "", d, nil
	}
	named, err := reference.ParseNamed(repoDomain + "/" + repo)
	if err != nil {
		return "", digest.Digest{}, backendrpc.Errorf(codes.InvalidArgument, "invalid repository name %q", repo)
	}
	if _, err := reference.WithTag(named, ref); err != nil {
		return "", digest.Digest{}, backendrpc.Errorf(codes.InvalidArgument, "invalid tag %q", ref)
	}
	return ref, digest.Digest{}, nil
}

func parseDigest(s string) (digest.Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return digest.Digest{}, backendrpc.Errorf(codes.InvalidArgument, "invalid digest %q: %v", s, err)
	}
	return d, nil
}

// repoLocked returns the named repository, creating it when create is set.
// b.mu must be held, for writing if create is set.
func (b *Backend) repoLocked(name string, create bool) *repository {
	r, ok := b.repos[name]
	if !ok && create {
		r = newRepository()
		b.repos[name] = r
	}
	return r
}

func (b *Backend) readAll(ctx context.Context, loc string) ([]byte, error) {
	r, err := b.opener.OpenRead(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *Backend) writeAll(ctx context.Context, loc string, r io.Reader) (int64, error) {
	w, err := b.opener.OpenOverwrite(ctx, loc)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, err
	}
	return n, w.Close()
}

func (b *Backend) remove(ctx context.Context, loc string) {
	rm, ok := b.opener.(locator.Remover)
	if !ok {
		return
	}
	if err := rm.Remove(ctx, loc); err != nil && !errors.Is(err, locator.ErrNotExist) {
		b.log.Warn("failed to remove content", "loc", loc, "err", err)
	}
}

func internalError(format string, args ...any) *backendrpc.Error {
	return backendrpc.Errorf(codes.Internal, "%s", fmt.Sprintf(format, args...))
}
