// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
)

func manifestName(repo RepoName, reference string) string {
	return string(repo) + ":" + reference
}

// StoreManifest writes data as the manifest for repo:reference and has the
// backend verify it. The manifest location is overwritten, never appended.
func (c *Client) StoreManifest(ctx context.Context, repo RepoName, reference string, data io.Reader) (VerifiedManifest, error) {
	const op = "store manifest"
	name := manifestName(repo, reference)
	c.log.Info("get write location for manifest", "repo", repo, "reference", reference)

	ref := backendrpc.ManifestRef{RepoName: string(repo), Reference: reference}
	var details backendrpc.ManifestWriteDetails
	if err := c.rpc.Call(ctx, backendrpc.MethodGetWriteDetailsForManifest, ref, &details); err != nil {
		kind := codeMap{codes.InvalidArgument: KindInvalidName}.classify(err)
		c.log.Warn("failed to find write location for manifest", "repo", repo, "reference", reference, "err", err)
		return VerifiedManifest{}, newError(kind, op, name, err)
	}

	sink, err := c.opener.OpenOverwrite(ctx, details.Path)
	if err != nil {
		return VerifiedManifest{}, newError(KindInternal, op, name, err)
	}
	if _, err := io.Copy(sink, data); err != nil {
		sink.Close()
		c.log.Warn("error writing manifest", "repo", repo, "reference", reference, "err", err)
		return VerifiedManifest{}, newError(KindInternal, op, name, err)
	}
	if err := sink.Close(); err != nil {
		return VerifiedManifest{}, newError(KindInternal, op, name, err)
	}

	c.log.Info("verify manifest", "repo", repo, "reference", reference, "session", details.UUID)
	var verified backendrpc.VerifiedManifest
	err = c.rpc.Call(ctx, backendrpc.MethodVerifyManifest, backendrpc.VerifyManifestRequest{
		Manifest: ref,
		UUID:     details.UUID,
	}, &verified)
	if err != nil {
		kind := codeMap{codes.InvalidArgument: KindInvalidManifest}.classify(err)
		c.log.Warn("manifest verification failed", "repo", repo, "reference", reference, "err", err)
		return VerifiedManifest{}, newError(kind, op, name, err)
	}
	d, err := digest.Parse(verified.Digest)
	if err != nil {
		c.log.Warn("error decoding digest", "digest", verified.Digest, "err", err)
		return VerifiedManifest{}, newError(KindInternal, op, name, fmt.Errorf("backend digest: %w", err))
	}
	return VerifiedManifest{
		Repo:        repo,
		Digest:      d,
		Reference:   reference,
		ContentType: verified.ContentType,
	}, nil
}

// ReadManifest opens the manifest stored under repo:reference.
func (c *Client) ReadManifest(ctx context.Context, repo RepoName, reference string) (*ManifestReader, error) {
	const op = "read manifest"
	name := manifestName(repo, reference)
	c.log.Info("get read location for manifest", "repo", repo, "reference", reference)
	var loc backendrpc.ManifestReadLocation
	err := c.rpc.Call(ctx, backendrpc.MethodGetReadLocationForManifest, backendrpc.ManifestRef{
		RepoName:  string(repo),
		Reference: reference,
	}, &loc)
	if err != nil {
		kind := codeMap{
			codes.NotFound:        KindNotFound,
			codes.InvalidArgument: KindInvalidName,
		}.classify(err)
		c.log.Warn("error getting manifest", "repo", repo, "reference", reference, "err", err)
		return nil, newError(kind, op, name, err)
	}
	d, err := digest.Parse(loc.Digest)
	if err != nil {
		return nil, newError(KindInternal, op, name, fmt.Errorf("backend digest: %w", err))
	}
	r, err := c.opener.OpenRead(ctx, loc.Path)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, locator.ErrNotExist) {
			kind = KindNotFound
		}
		return nil, newError(kind, op, name, err)
	}
	return &ManifestReader{
		ReadCloser:  r,
		ContentType: loc.ContentType,
		Digest:      d,
		Size:        r.Size(),
	}, nil
}

// DeleteManifest deletes the manifest with digest d from repo.
func (c *Client) DeleteManifest(ctx context.Context, repo RepoName, d digest.Digest) error {
	const op = "delete manifest"
	c.log.Info("delete manifest", "repo", repo, "digest", d)
	err := c.rpc.Call(ctx, backendrpc.MethodDeleteManifest, backendrpc.ManifestRef{
		RepoName:  string(repo),
		Reference: d.String(),
	}, nil)
	if err != nil {
		kind := codeMap{
			codes.InvalidArgument: KindUnsupported,
			codes.NotFound:        KindInvalidManifest,
		}.classify(err)
		c.log.Warn("error deleting manifest", "repo", repo, "digest", d, "err", err)
		return newError(kind, op, manifestName(repo, d.String()), err)
	}
	return nil
}

func streamLimit(limit uint32) uint32 {
	if limit == 0 {
		return math.MaxUint32
	}
	return limit
}

// GetManifestHistory returns the digests repo:reference has pointed at,
// starting after cursor. Entries the backend stored without a timestamp are
// dated at the Unix epoch.
func (c *Client) GetManifestHistory(ctx context.Context, repo RepoName, reference string, limit uint32, cursor string) (*ManifestHistory, error) {
	const op = "manifest history"
	limit = streamLimit(limit)
	c.log.Info("get manifest history", "repo", repo, "reference", reference, "limit", limit, "last_digest", cursor)

	history := NewManifestHistory(manifestName(repo, reference))
	err := c.rpc.Stream(ctx, backendrpc.MethodGetManifestHistory, backendrpc.ManifestHistoryRequest{
		RepoName:   string(repo),
		Tag:        reference,
		Limit:      limit,
		LastDigest: cursor,
	}, func(raw json.RawMessage) error {
		var entry backendrpc.ManifestHistoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		date := time.Unix(0, 0).UTC()
		if entry.Date != nil {
			date = entry.Date.UTC()
		} else {
			c.log.Warn("manifest digest stored without timestamp, using epoch", "digest", entry.Digest)
		}
		history.Insert(entry.Digest, date)
		return nil
	})
	if err != nil {
		c.log.Warn("error getting manifest history", "repo", repo, "reference", reference, "err", err)
		return nil, newError(KindInternal, op, manifestName(repo, reference), err)
	}
	return history, nil
}
