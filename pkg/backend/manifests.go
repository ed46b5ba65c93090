// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
)

// Docker schema 2 media types accepted alongside the OCI ones.
const (
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

func (b *Backend) GetWriteDetailsForManifest(ctx context.Context, ref backendrpc.ManifestRef) (backendrpc.ManifestWriteDetails, error) {
	if err := validateRepo(ref.RepoName); err != nil {
		return backendrpc.ManifestWriteDetails{}, err
	}
	if _, _, err := parseReference(ref.RepoName, ref.Reference); err != nil {
		return backendrpc.ManifestWriteDetails{}, err
	}
	u := &manifestUpload{
		uuid:      uuid.New().String(),
		repo:      ref.RepoName,
		reference: ref.Reference,
	}
	u.loc = b.locate("manifest-uploads", u.uuid)
	b.manifestUploads.Store(u.uuid, u)
	return backendrpc.ManifestWriteDetails{Path: u.loc, UUID: u.uuid}, nil
}

// manifestHeader holds the fields shared by image manifests and indexes.
type manifestHeader struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType,omitempty"`
	Manifests     []any  `json:"manifests,omitempty"`
}

func invalidManifest(format string, args ...any) error {
	return backendrpc.Errorf(codes.InvalidArgument, format, args...)
}

// checkManifestLocked validates data as an OCI or Docker schema 2 manifest whose
// references all resolve within repo, and returns its media type.
// b.mu must be held.
func (b *Backend) checkManifestLocked(repo string, data []byte) (string, error) {
	var hdr manifestHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return "", invalidManifest("manifest is not JSON: %v", err)
	}
	if hdr.SchemaVersion != 2 {
		return "", invalidManifest("unsupported schema version %d", hdr.SchemaVersion)
	}
	mediaType := hdr.MediaType
	if mediaType == "" {
		mediaType = ocispec.MediaTypeImageManifest
		if hdr.Manifests != nil {
			mediaType = ocispec.MediaTypeImageIndex
		}
	}

	switch mediaType {
	case ocispec.MediaTypeImageIndex, mediaTypeDockerManifestList:
		var idx ocispec.Index
		if err := json.Unmarshal(data, &idx); err != nil {
			return "", invalidManifest("invalid index: %v", err)
		}
		r := b.repoLocked(repo, false)
		for _, m := range idx.Manifests {
			if r == nil {
				return "", invalidManifest("manifest %s unknown to %s", m.Digest, repo)
			}
			if _, ok := r.manifests[m.Digest.String()]; !ok {
				return "", invalidManifest("manifest %s unknown to %s", m.Digest, repo)
			}
		}
	case ocispec.MediaTypeImageManifest, mediaTypeDockerManifest:
		var m ocispec.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return "", invalidManifest("invalid manifest: %v", err)
		}
		if m.Config.Digest == "" {
			return "", invalidManifest("manifest has no config")
		}
		for _, desc := range append([]ocispec.Descriptor{m.Config}, m.Layers...) {
			if err := desc.Digest.Validate(); err != nil {
				return "", invalidManifest("invalid descriptor digest %q: %v", desc.Digest, err)
			}
			if !b.hasBlobLocked(repo, desc.Digest.String()) {
				return "", invalidManifest("blob %s unknown to %s", desc.Digest, repo)
			}
		}
	default:
		return "", invalidManifest("unsupported manifest media type %q", mediaType)
	}
	return mediaType, nil
}

// VerifyManifest checks a manifest written under the upload session,
// stores it by digest and, for tag references, points the tag at it and
// records the change in the tag's history.
func (b *Backend) VerifyManifest(ctx context.Context, req backendrpc.VerifyManifestRequest) (backendrpc.VerifiedManifest, error) {
	ref := req.Manifest
	u, ok := b.manifestUploads.LoadAndDelete(req.UUID)
	if !ok || u.repo != ref.RepoName || u.reference != ref.Reference {
		return backendrpc.VerifiedManifest{}, errUploadNotFound
	}
	defer b.remove(ctx, u.loc)
	tag, wantDigest, err := parseReference(u.repo, u.reference)
	if err != nil {
		return backendrpc.VerifiedManifest{}, err
	}

	data, err := b.readAll(ctx, u.loc)
	if errors.Is(err, locator.ErrNotExist) {
		return backendrpc.VerifiedManifest{}, invalidManifest("no manifest written")
	}
	if err != nil {
		return backendrpc.VerifiedManifest{}, internalError("read manifest: %v", err)
	}
	d := digest.FromBytes(data)
	if !wantDigest.IsZero() {
		got, err := digest.FromReader(wantDigest.Algorithm, bytes.NewReader(data))
		if err != nil {
			return backendrpc.VerifiedManifest{}, internalError("digest manifest: %v", err)
		}
		if got != wantDigest {
			return backendrpc.VerifiedManifest{}, invalidManifest("digest mismatch: %s != %s", got, wantDigest)
		}
		d = got
	}

	b.mu.RLock()
	mediaType, err := b.checkManifestLocked(u.repo, data)
	b.mu.RUnlock()
	if err != nil {
		return backendrpc.VerifiedManifest{}, err
	}

	if _, err := b.writeAll(ctx, b.manifestLoc(d), bytes.NewReader(data)); err != nil {
		return backendrpc.VerifiedManifest{}, internalError("store manifest: %v", err)
	}

	b.mu.Lock()
	r := b.repoLocked(u.repo, true)
	r.manifests[d.String()] = manifestMeta{contentType: mediaType, size: int64(len(data))}
	if tag != "" {
		r.tags[tag] = d.String()
		r.recordHistory(tag, d.String(), b.now())
	}
	b.mu.Unlock()
	b.stats.manifestWrites.Add(1)
	b.log.Info("manifest stored", "repo", u.repo, "reference", u.reference, "digest", d)
	return backendrpc.VerifiedManifest{Digest: d.String(), ContentType: mediaType}, nil
}

// resolveManifest returns the digest ref names within repo.
func (b *Backend) resolveManifest(repo, ref string) (digest.Digest, manifestMeta, error) {
	if err := validateRepo(repo); err != nil {
		return digest.Digest{}, manifestMeta{}, err
	}
	tag, d, err := parseReference(repo, ref)
	if err != nil {
		return digest.Digest{}, manifestMeta{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.repoLocked(repo, false)
	if r == nil {
		return digest.Digest{}, manifestMeta{}, errManifestNotFound
	}
	if tag != "" {
		ds, ok := r.tags[tag]
		if !ok {
			return digest.Digest{}, manifestMeta{}, errManifestNotFound
		}
		d = digest.MustParse(ds)
	}
	meta, ok := r.manifests[d.String()]
	if !ok {
		return digest.Digest{}, manifestMeta{}, errManifestNotFound
	}
	return d, meta, nil
}

func (b *Backend) GetReadLocationForManifest(ctx context.Context, ref backendrpc.ManifestRef) (backendrpc.ManifestReadLocation, error) {
	d, meta, err := b.resolveManifest(ref.RepoName, ref.Reference)
	if err != nil {
		return backendrpc.ManifestReadLocation{}, err
	}
	b.stats.manifestReads.Add(1)
	return backendrpc.ManifestReadLocation{
		Path:        b.manifestLoc(d),
		ContentType: meta.contentType,
		Digest:      d.String(),
	}, nil
}

// DeleteManifest deletes a manifest by digest along with the tags that
// point at it. Deleting by tag is not supported.
func (b *Backend) DeleteManifest(ctx context.Context, ref backendrpc.ManifestRef) (backendrpc.ManifestDeleted, error) {
	if err := validateRepo(ref.RepoName); err != nil {
		return backendrpc.ManifestDeleted{}, err
	}
	d, err := digest.Parse(ref.Reference)
	if err != nil {
		return backendrpc.ManifestDeleted{}, backendrpc.Errorf(codes.InvalidArgument, "manifests can only be deleted by digest")
	}
	b.mu.Lock()
	r := b.repoLocked(ref.RepoName, false)
	if r == nil {
		b.mu.Unlock()
		return backendrpc.ManifestDeleted{}, errManifestNotFound
	}
	if _, ok := r.manifests[d.String()]; !ok {
		b.mu.Unlock()
		return backendrpc.ManifestDeleted{}, errManifestNotFound
	}
	delete(r.manifests, d.String())
	for tag, td := range r.tags {
		if td == d.String() {
			delete(r.tags, tag)
		}
	}
	inUse := false
	for _, other := range b.repos {
		if _, ok := other.manifests[d.String()]; ok {
			inUse = true
			break
		}
	}
	b.mu.Unlock()
	if !inUse {
		b.remove(ctx, b.manifestLoc(d))
	}
	b.log.Info("manifest deleted", "repo", ref.RepoName, "digest", d)
	return backendrpc.ManifestDeleted{}, nil
}
