// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"net/http"
	"strconv"

	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/regclient"
)

// handleBlob handles blob operations.
func (r *Registry) handleBlob(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, ref string) {
	d, err := digest.Parse(ref)
	if err != nil {
		if req.Method == http.MethodHead {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		WriteError(w, http.StatusBadRequest, ErrCodeDigestInvalid, err.Error(), nil)
		return
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		r.handleBlobGet(w, req, repo, d)
	case http.MethodDelete:
		if err := r.client.DeleteBlob(req.Context(), repo, d); err != nil {
			r.writeClientError(w, req, err, ErrCodeBlobUnknown)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		methodNotAllowed(w)
	}
}

// handleBlobGet serves a blob, or only its headers for HEAD.
func (r *Registry) handleBlobGet(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, d digest.Digest) {
	blob, err := r.client.GetBlob(req.Context(), repo, d)
	if err != nil {
		r.writeClientError(w, req, err, ErrCodeBlobUnknown)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Docker-Content-Digest", d.String())
	if req.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := serveContent(w, req, http.StatusOK, blob.Size, blob); err != nil {
		r.log.Warn("failed to send blob", "repo", repo, "digest", d, "err", err)
	}
}
