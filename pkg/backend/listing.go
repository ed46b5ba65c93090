// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"slices"

	"github.com/yeetrun/trow/pkg/backendrpc"
)

// page returns up to limit keys that sort after last.
func page(keys []string, limit uint32, last string) []string {
	slices.Sort(keys)
	if last != "" {
		i, found := slices.BinarySearch(keys, last)
		if found {
			i++
		}
		keys = keys[i:]
	}
	if uint64(len(keys)) > uint64(limit) {
		keys = keys[:limit]
	}
	return keys
}

func (b *Backend) GetCatalog(ctx context.Context, req backendrpc.CatalogRequest, send func(any) error) error {
	b.mu.RLock()
	names := make([]string, 0, len(b.repos))
	for name, r := range b.repos {
		if len(r.manifests) > 0 || len(r.blobs) > 0 {
			names = append(names, name)
		}
	}
	b.mu.RUnlock()
	for _, name := range page(names, req.Limit, req.LastRepo) {
		if err := send(backendrpc.CatalogEntry{RepoName: name}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ListTags(ctx context.Context, req backendrpc.ListTagsRequest, send func(any) error) error {
	if err := validateRepo(req.RepoName); err != nil {
		return err
	}
	b.mu.RLock()
	r := b.repoLocked(req.RepoName, false)
	if r == nil {
		b.mu.RUnlock()
		return errRepoNotFound
	}
	tags := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		tags = append(tags, tag)
	}
	b.mu.RUnlock()
	for _, tag := range page(tags, req.Limit, req.LastTag) {
		if err := send(backendrpc.Tag{Tag: tag}); err != nil {
			return err
		}
	}
	return nil
}

// GetManifestHistory streams the tag's history in first-push order, resuming
// after the entry for LastDigest. An unknown LastDigest yields nothing.
func (b *Backend) GetManifestHistory(ctx context.Context, req backendrpc.ManifestHistoryRequest, send func(any) error) error {
	if err := validateRepo(req.RepoName); err != nil {
		return err
	}
	tag, _, err := parseReference(req.RepoName, req.Tag)
	if err != nil {
		return err
	}
	if tag == "" {
		return invalidManifest("history is kept for tags, not digests")
	}
	b.mu.RLock()
	r := b.repoLocked(req.RepoName, false)
	if r == nil {
		b.mu.RUnlock()
		return errRepoNotFound
	}
	entries := slices.Clone(r.history[tag])
	b.mu.RUnlock()

	if req.LastDigest != "" {
		i := slices.IndexFunc(entries, func(e historyEntry) bool { return e.digest == req.LastDigest })
		if i < 0 {
			return nil
		}
		entries = entries[i+1:]
	}
	var sent uint32
	for _, e := range entries {
		if sent == req.Limit {
			break
		}
		date := e.date
		if err := send(backendrpc.ManifestHistoryEntry{Digest: e.digest, Date: &date}); err != nil {
			return err
		}
		sent++
	}
	return nil
}
