// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/regclient"
)

// maxManifestSize bounds manifest uploads.
const maxManifestSize = 4 << 20

// handleManifest handles manifest operations.
func (r *Registry) handleManifest(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, reference string) {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		r.handleManifestGet(w, req, repo, reference)
	case http.MethodPut:
		r.handleManifestPut(w, req, repo, reference)
	case http.MethodDelete:
		r.handleManifestDelete(w, req, repo, reference)
	default:
		methodNotAllowed(w)
	}
}

// handleManifestGet serves a manifest, or only its headers for HEAD.
func (r *Registry) handleManifestGet(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, reference string) {
	mf, err := r.client.ReadManifest(req.Context(), repo, reference)
	if err != nil {
		r.writeClientError(w, req, err, ErrCodeManifestUnknown)
		return
	}
	defer mf.Close()

	contentType := mf.ContentType
	if contentType == "" {
		contentType = ocispec.MediaTypeImageManifest
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Docker-Content-Digest", mf.Digest.String())
	if req.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(mf.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := serveContent(w, req, http.StatusOK, mf.Size, mf); err != nil {
		r.log.Warn("failed to send manifest", "repo", repo, "reference", reference, "err", err)
	}
}

// manifestHeader holds the fields of an image manifest or index the front
// end inspects before handing the document to the backend.
type manifestHeader struct {
	MediaType string              `json:"mediaType"`
	Subject   *ocispec.Descriptor `json:"subject,omitempty"`
}

// handleManifestPut uploads a manifest.
func (r *Registry) handleManifestPut(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, reference string) {
	if err := decodeRequestBody(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error(), nil)
		return
	}
	defer req.Body.Close()

	data, err := io.ReadAll(io.LimitReader(req.Body, maxManifestSize+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, regclient.KindInvalidManifest.Code(), "failed to read manifest", nil)
		return
	}
	if len(data) > maxManifestSize {
		WriteError(w, http.StatusRequestEntityTooLarge, regclient.KindInvalidManifest.Code(), "manifest too large", nil)
		return
	}
	var hdr manifestHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		WriteError(w, http.StatusBadRequest, regclient.KindInvalidManifest.Code(), "invalid JSON", nil)
		return
	}
	if ct := req.Header.Get("Content-Type"); ct != "" && hdr.MediaType != "" && ct != hdr.MediaType {
		WriteError(w, http.StatusBadRequest, regclient.KindInvalidManifest.Code(),
			"manifest mediaType does not match Content-Type header", nil)
		return
	}

	vm, err := r.client.StoreManifest(req.Context(), repo, reference, bytes.NewReader(data))
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	w.Header().Set("Docker-Content-Digest", vm.Digest.String())
	w.Header().Set("Location", ManifestPath(repo, vm.Digest.String()))
	if hdr.Subject != nil && hdr.Subject.Digest != "" {
		w.Header().Set("OCI-Subject", hdr.Subject.Digest.String())
	}
	w.WriteHeader(http.StatusCreated)
}

// handleManifestDelete deletes a manifest by digest. Tags cannot be deleted.
func (r *Registry) handleManifestDelete(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, reference string) {
	d, err := digest.Parse(reference)
	if err != nil {
		WriteError(w, http.StatusMethodNotAllowed, ErrCodeUnsupported, "manifests can only be deleted by digest", nil)
		return
	}
	if err := r.client.DeleteManifest(req.Context(), repo, d); err != nil {
		r.writeClientError(w, req, err, ErrCodeManifestUnknown)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
