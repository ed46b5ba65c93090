// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
)

// RequestUpload allocates a new upload session for repo.
func (c *Client) RequestUpload(ctx context.Context, repo RepoName) (UploadSession, error) {
	const op = "request upload"
	c.log.Info("request upload", "repo", repo)
	var resp backendrpc.UploadDetails
	err := c.rpc.Call(ctx, backendrpc.MethodRequestUpload, backendrpc.UploadRequest{RepoName: string(repo)}, &resp)
	if err != nil {
		kind := codeMap{codes.InvalidArgument: KindInvalidName}.classify(err)
		c.log.Warn("request upload failed", "repo", repo, "err", err)
		return UploadSession{}, newError(kind, op, string(repo), err)
	}
	return UploadSession{ID: UploadSessionID(resp.UUID), Repo: repo}, nil
}

// openUploadSink resolves the session's write location and opens it for
// appending. The backend returns the same location for every resolution of
// a session, so successive chunks extend one stream.
func (c *Client) openUploadSink(ctx context.Context, op string, s UploadSession) (locator.Appender, error) {
	c.log.Info("get write location for blob", "repo", s.Repo, "session", s.ID)
	var loc backendrpc.WriteLocation
	err := c.rpc.Call(ctx, backendrpc.MethodGetWriteLocationForBlob, backendrpc.UploadRef{
		UUID:     string(s.ID),
		RepoName: string(s.Repo),
	}, &loc)
	if err != nil {
		kind := codeMap{
			codes.InvalidArgument: KindInvalidNameOrSession,
			codes.NotFound:        KindInvalidNameOrSession,
		}.classify(err)
		c.log.Warn("failed to find write location for blob", "repo", s.Repo, "session", s.ID, "err", err)
		return nil, newError(kind, op, sessionName(s), err)
	}
	sink, err := c.opener.OpenAppend(ctx, loc.Path)
	if err != nil {
		c.log.Warn("failed to open blob sink", "path", loc.Path, "err", err)
		return nil, newError(KindInternal, op, sessionName(s), err)
	}
	return sink, nil
}

func sessionName(s UploadSession) string {
	return fmt.Sprintf("%s/%s", s.Repo, s.ID)
}

// WriteChunk appends data to the session's blob and returns the total
// number of bytes written so far.
//
// With info nil the write is unconstrained. Otherwise the write is rejected
// with KindInvalidContentRange unless the sink's current length equals
// info.Range.Start (checked before anything is written), and after the copy
// the sink's length equals info.Range.End+1 and exactly info.Length bytes
// were copied.
func (c *Client) WriteChunk(ctx context.Context, s UploadSession, info *ContentInfo, data io.Reader) (int64, error) {
	const op = "write chunk"
	sink, err := c.openUploadSink(ctx, op, s)
	if err != nil {
		return 0, err
	}
	defer sink.Close()

	start, err := sink.Size()
	if err != nil {
		return 0, newError(KindInternal, op, sessionName(s), err)
	}
	if info != nil && start != info.Range.Start {
		c.log.Warn("invalid start index for chunk", "session", s.ID, "expected", start, "got", info.Range.Start)
		return 0, newError(KindInvalidContentRange, op, sessionName(s),
			fmt.Errorf("chunk starts at %d, upload is at %d", info.Range.Start, start))
	}

	n, err := io.Copy(sink, data)
	if err != nil {
		c.log.Warn("error writing blob", "session", s.ID, "err", err)
		return 0, newError(KindInternal, op, sessionName(s), err)
	}
	total, err := sink.Size()
	if err != nil {
		return 0, newError(KindInternal, op, sessionName(s), err)
	}
	if err := sink.Close(); err != nil {
		return 0, newError(KindInternal, op, sessionName(s), err)
	}

	if info != nil {
		if info.Range.End+1 != total {
			c.log.Warn("chunk range does not match upload length", "session", s.ID, "total", total, "end", info.Range.End)
			return 0, newError(KindInvalidContentRange, op, sessionName(s),
				fmt.Errorf("chunk ends at %d, upload length is %d", info.Range.End, total))
		}
		if info.Length != n {
			c.log.Warn("chunk length mismatch", "session", s.ID, "declared", info.Length, "copied", n)
			return 0, newError(KindInvalidContentRange, op, sessionName(s),
				fmt.Errorf("chunk declared %d bytes, copied %d", info.Length, n))
		}
	}
	return total, nil
}

// UploadStatus reports the session's current offset.
func (c *Client) UploadStatus(ctx context.Context, s UploadSession) (UploadSession, error) {
	sink, err := c.openUploadSink(ctx, "upload status", s)
	if err != nil {
		return UploadSession{}, err
	}
	defer sink.Close()
	n, err := sink.Size()
	if err != nil {
		return UploadSession{}, newError(KindInternal, "upload status", sessionName(s), err)
	}
	s.Offset = n
	return s, nil
}

// CompleteUpload asks the backend to finalize the session and verify its
// content against expected.
func (c *Client) CompleteUpload(ctx context.Context, repo RepoName, id UploadSessionID, expected digest.Digest) (AcceptedUpload, error) {
	const op = "complete upload"
	c.log.Info("complete upload", "repo", repo, "session", id, "digest", expected)
	var resp backendrpc.CompletedUpload
	err := c.rpc.Call(ctx, backendrpc.MethodCompleteUpload, backendrpc.CompleteRequest{
		RepoName:   string(repo),
		UUID:       string(id),
		UserDigest: expected.String(),
	}, &resp)
	if err != nil {
		kind := codeMap{
			codes.InvalidArgument: KindInvalidDigest,
			codes.NotFound:        KindInvalidNameOrSession,
		}.classify(err)
		c.log.Warn("error finalising upload", "repo", repo, "session", id, "err", err)
		return AcceptedUpload{}, newError(kind, op, string(repo), err)
	}
	d := expected
	if resp.Digest != "" {
		if d, err = digest.Parse(resp.Digest); err != nil {
			return AcceptedUpload{}, newError(KindInternal, op, string(repo), fmt.Errorf("backend digest: %w", err))
		}
	}
	accepted := AcceptedUpload{Digest: d, Repo: repo, Session: id}
	if resp.Size > 0 {
		accepted.Range = Range{Start: 0, End: resp.Size - 1}
	}
	return accepted, nil
}

// UploadOneShot uploads a complete blob: it opens a session, writes data
// unconstrained and completes the upload.
func (c *Client) UploadOneShot(ctx context.Context, repo RepoName, expected digest.Digest, data io.Reader) (AcceptedUpload, error) {
	s, err := c.RequestUpload(ctx, repo)
	if err != nil {
		return AcceptedUpload{}, err
	}
	n, err := c.WriteChunk(ctx, s, nil, data)
	if err != nil {
		return AcceptedUpload{}, err
	}
	accepted, err := c.CompleteUpload(ctx, repo, s.ID, expected)
	if err != nil {
		return AcceptedUpload{}, err
	}
	if n > 0 {
		accepted.Range = Range{Start: 0, End: n - 1}
	}
	return accepted, nil
}

// GetBlob opens the content of blob d in repo.
func (c *Client) GetBlob(ctx context.Context, repo RepoName, d digest.Digest) (*BlobReader, error) {
	const op = "get blob"
	c.log.Info("get read location for blob", "repo", repo, "digest", d)
	var loc backendrpc.BlobReadLocation
	err := c.rpc.Call(ctx, backendrpc.MethodGetReadLocationForBlob, backendrpc.BlobRef{
		RepoName: string(repo),
		Digest:   d.String(),
	}, &loc)
	if err != nil {
		kind := codeMap{
			codes.NotFound:        KindNotFound,
			codes.InvalidArgument: KindInvalidName,
		}.classify(err)
		c.log.Warn("error getting blob", "repo", repo, "digest", d, "err", err)
		return nil, newError(kind, op, string(repo), err)
	}
	r, err := c.opener.OpenRead(ctx, loc.Path)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, locator.ErrNotExist) {
			kind = KindNotFound
		}
		return nil, newError(kind, op, string(repo), err)
	}
	return &BlobReader{ReadCloser: r, Digest: d, Size: r.Size()}, nil
}

// DeleteBlob removes blob d from repo. A digest the backend rejects or does
// not know is reported as KindInvalidDigest.
func (c *Client) DeleteBlob(ctx context.Context, repo RepoName, d digest.Digest) error {
	const op = "delete blob"
	c.log.Info("delete blob", "repo", repo, "digest", d)
	err := c.rpc.Call(ctx, backendrpc.MethodDeleteBlob, backendrpc.BlobRef{
		RepoName: string(repo),
		Digest:   d.String(),
	}, nil)
	if err != nil {
		kind := codeMap{
			codes.InvalidArgument: KindInvalidDigest,
			codes.NotFound:        KindInvalidDigest,
		}.classify(err)
		c.log.Warn("error deleting blob", "repo", repo, "digest", d, "err", err)
		return newError(kind, op, string(repo), err)
	}
	return nil
}
