// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
)

func (b *Backend) RequestUpload(ctx context.Context, req backendrpc.UploadRequest) (backendrpc.UploadDetails, error) {
	if err := validateRepo(req.RepoName); err != nil {
		return backendrpc.UploadDetails{}, err
	}
	u := &upload{
		uuid: uuid.New().String(),
		repo: req.RepoName,
	}
	u.loc = b.locate("uploads", u.uuid)
	b.uploads.Store(u.uuid, u)
	b.stats.uploads.Add(1)
	b.log.Debug("upload started", "repo", u.repo, "session", u.uuid)
	return backendrpc.UploadDetails{UUID: u.uuid}, nil
}

func (b *Backend) lookupUpload(repo, id string) (*upload, error) {
	if err := validateRepo(repo); err != nil {
		return nil, err
	}
	u, ok := b.uploads.Load(id)
	if !ok || u.repo != repo {
		return nil, errUploadNotFound
	}
	return u, nil
}

// GetWriteLocationForBlob returns the same location for every call with the
// same session.
func (b *Backend) GetWriteLocationForBlob(ctx context.Context, ref backendrpc.UploadRef) (backendrpc.WriteLocation, error) {
	u, err := b.lookupUpload(ref.RepoName, ref.UUID)
	if err != nil {
		return backendrpc.WriteLocation{}, err
	}
	return backendrpc.WriteLocation{Path: u.loc}, nil
}

// CompleteUpload verifies the uploaded content against the caller's digest
// and moves it into blob storage. The session ends whether or not the digest
// matches.
func (b *Backend) CompleteUpload(ctx context.Context, req backendrpc.CompleteRequest) (backendrpc.CompletedUpload, error) {
	want, err := parseDigest(req.UserDigest)
	if err != nil {
		return backendrpc.CompletedUpload{}, err
	}
	u, err := b.lookupUpload(req.RepoName, req.UUID)
	if err != nil {
		return backendrpc.CompletedUpload{}, err
	}
	b.uploads.Delete(u.uuid)
	defer b.remove(ctx, u.loc)

	r, err := b.opener.OpenRead(ctx, u.loc)
	if errors.Is(err, locator.ErrNotExist) {
		// Nothing was written; the blob is empty.
		r, err = emptyReader(), nil
	}
	if err != nil {
		return backendrpc.CompletedUpload{}, internalError("open upload: %v", err)
	}
	got, err := digest.FromReader(want.Algorithm, r)
	r.Close()
	if err != nil {
		return backendrpc.CompletedUpload{}, internalError("digest upload: %v", err)
	}
	if got != want {
		return backendrpc.CompletedUpload{}, backendrpc.Errorf(codes.InvalidArgument, "digest mismatch: %s != %s", got, want)
	}

	r, err = b.opener.OpenRead(ctx, u.loc)
	if errors.Is(err, locator.ErrNotExist) {
		r, err = emptyReader(), nil
	}
	if err != nil {
		return backendrpc.CompletedUpload{}, internalError("open upload: %v", err)
	}
	defer r.Close()
	size, err := b.writeAll(ctx, b.blobLoc(got), r)
	if err != nil {
		return backendrpc.CompletedUpload{}, internalError("store blob: %v", err)
	}

	b.mu.Lock()
	b.repoLocked(u.repo, true).blobs[got.String()] = size
	b.mu.Unlock()
	b.log.Info("blob stored", "repo", u.repo, "digest", got, "size", size)
	return backendrpc.CompletedUpload{Digest: got.String(), Size: size}, nil
}

func (b *Backend) lookupBlob(repo, ds string) (digest.Digest, error) {
	if err := validateRepo(repo); err != nil {
		return digest.Digest{}, err
	}
	d, err := parseDigest(ds)
	if err != nil {
		return digest.Digest{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.repoLocked(repo, false)
	if r == nil {
		return digest.Digest{}, errBlobNotFound
	}
	if _, ok := r.blobs[d.String()]; !ok {
		return digest.Digest{}, errBlobNotFound
	}
	return d, nil
}

func (b *Backend) GetReadLocationForBlob(ctx context.Context, ref backendrpc.BlobRef) (backendrpc.BlobReadLocation, error) {
	d, err := b.lookupBlob(ref.RepoName, ref.Digest)
	if err != nil {
		return backendrpc.BlobReadLocation{}, err
	}
	b.stats.blobReads.Add(1)
	return backendrpc.BlobReadLocation{Path: b.blobLoc(d)}, nil
}

// DeleteBlob unlinks the blob from the repository and removes its content
// once no repository references it.
func (b *Backend) DeleteBlob(ctx context.Context, ref backendrpc.BlobRef) (backendrpc.BlobDeleted, error) {
	d, err := b.lookupBlob(ref.RepoName, ref.Digest)
	if err != nil {
		return backendrpc.BlobDeleted{}, err
	}
	b.mu.Lock()
	delete(b.repoLocked(ref.RepoName, false).blobs, d.String())
	inUse := false
	for _, r := range b.repos {
		if _, ok := r.blobs[d.String()]; ok {
			inUse = true
			break
		}
	}
	b.mu.Unlock()
	if !inUse {
		b.remove(ctx, b.blobLoc(d))
	}
	b.log.Info("blob deleted", "repo", ref.RepoName, "digest", d)
	return backendrpc.BlobDeleted{}, nil
}

// hasBlobLocked reports whether repo links blob d. b.mu must be held.
func (b *Backend) hasBlobLocked(repo string, d string) bool {
	r := b.repoLocked(repo, false)
	if r == nil {
		return false
	}
	_, ok := r.blobs[d]
	return ok
}

type emptyBlob struct{ *bytes.Reader }

func (emptyBlob) Close() error { return nil }

func emptyReader() locator.Reader { return emptyBlob{bytes.NewReader(nil)} }
