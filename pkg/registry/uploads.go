// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"fmt"
	"net/http"

	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/regclient"
)

// handleBlobUploadInitiate opens an upload session, or performs a
// monolithic upload when the request carries ?digest=.
func (r *Registry) handleBlobUploadInitiate(w http.ResponseWriter, req *http.Request, repo regclient.RepoName) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if ds := req.URL.Query().Get("digest"); ds != "" {
		r.handleMonolithicUpload(w, req, repo, ds)
		return
	}

	// Cross-repository mounts are not supported; per the distribution API
	// the client falls back to the upload session created below.
	s, err := r.client.RequestUpload(req.Context(), repo)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	writeUploadHeaders(w, s)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleMonolithicUpload(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, ds string) {
	d, err := digest.Parse(ds)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeDigestInvalid, err.Error(), nil)
		return
	}
	if err := decodeRequestBody(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error(), nil)
		return
	}
	defer req.Body.Close()
	accepted, err := r.client.UploadOneShot(req.Context(), repo, d, req.Body)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	writeBlobCreated(w, accepted)
}

// handleBlobUpload handles an ongoing blob upload.
func (r *Registry) handleBlobUpload(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, id regclient.UploadSessionID) {
	s := regclient.UploadSession{ID: id, Repo: repo}
	switch req.Method {
	case http.MethodPatch:
		r.handleBlobUploadChunk(w, req, s)
	case http.MethodPut:
		r.handleBlobUploadComplete(w, req, s)
	case http.MethodGet:
		r.handleBlobUploadStatus(w, req, s)
	default:
		methodNotAllowed(w)
	}
}

// contentInfo builds the chunk constraints declared by the request. A
// request without Content-Range is unconstrained and yields nil. It must run
// after decodeRequestBody so an encoded body's length is not mistaken for
// the chunk length.
func contentInfo(req *http.Request) (*regclient.ContentInfo, error) {
	cr := req.Header.Get("Content-Range")
	if cr == "" {
		return nil, nil
	}
	rng, err := regclient.ParseRange(cr)
	if err != nil {
		return nil, err
	}
	info := &regclient.ContentInfo{Length: rng.Len(), Range: rng}
	if req.ContentLength >= 0 {
		info.Length = req.ContentLength
	}
	if !info.Valid() {
		return nil, fmt.Errorf("content length %d does not match range %s", info.Length, rng)
	}
	return info, nil
}

// handleBlobUploadChunk appends one chunk to the session.
func (r *Registry) handleBlobUploadChunk(w http.ResponseWriter, req *http.Request, s regclient.UploadSession) {
	if err := decodeRequestBody(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error(), nil)
		return
	}
	defer req.Body.Close()
	info, err := contentInfo(req)
	if err != nil {
		WriteError(w, http.StatusRequestedRangeNotSatisfiable, ErrCodeBlobUploadInvalid, err.Error(), nil)
		return
	}

	total, err := r.client.WriteChunk(req.Context(), s, info, req.Body)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	s.Offset = total
	writeUploadHeaders(w, s)
	w.WriteHeader(http.StatusAccepted)
}

// handleBlobUploadComplete writes any final chunk and completes the upload.
func (r *Registry) handleBlobUploadComplete(w http.ResponseWriter, req *http.Request, s regclient.UploadSession) {
	ds := req.URL.Query().Get("digest")
	if ds == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeDigestInvalid, "digest parameter required", nil)
		return
	}
	d, err := digest.Parse(ds)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeDigestInvalid, err.Error(), nil)
		return
	}
	if err := decodeRequestBody(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error(), nil)
		return
	}
	defer req.Body.Close()
	info, err := contentInfo(req)
	if err != nil {
		WriteError(w, http.StatusRequestedRangeNotSatisfiable, ErrCodeBlobUploadInvalid, err.Error(), nil)
		return
	}

	if req.ContentLength != 0 {
		if _, err := r.client.WriteChunk(req.Context(), s, info, req.Body); err != nil {
			r.writeClientError(w, req, err, "")
			return
		}
	}
	accepted, err := r.client.CompleteUpload(req.Context(), s.Repo, s.ID, d)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	writeBlobCreated(w, accepted)
}

// handleBlobUploadStatus reports how much of the upload has been received.
func (r *Registry) handleBlobUploadStatus(w http.ResponseWriter, req *http.Request, s regclient.UploadSession) {
	s, err := r.client.UploadStatus(req.Context(), s)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	writeUploadHeaders(w, s)
	w.WriteHeader(http.StatusNoContent)
}

func writeUploadHeaders(w http.ResponseWriter, s regclient.UploadSession) {
	w.Header().Set("Location", UploadPath(s.Repo, s.ID))
	if s.Offset > 0 {
		w.Header().Set("Range", fmt.Sprintf("0-%d", s.Offset-1))
	} else {
		w.Header().Set("Range", "0-0")
	}
	w.Header().Set("Docker-Upload-UUID", string(s.ID))
	w.Header().Set("Content-Length", "0")
}

func writeBlobCreated(w http.ResponseWriter, a regclient.AcceptedUpload) {
	w.Header().Set("Location", BlobPath(a.Repo, a.Digest.String()))
	w.Header().Set("Docker-Content-Digest", a.Digest.String())
	w.WriteHeader(http.StatusCreated)
}
