// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yeetrun/trow/pkg/regclient"
)

const errCodePaginationInvalid = "PAGINATION_NUMBER_INVALID"

// pagination is the n/last query of a listing request. N is zero when the
// client did not ask for a page size.
type pagination struct {
	N    uint32
	Last string
}

func parsePagination(req *http.Request) (pagination, error) {
	q := req.URL.Query()
	p := pagination{Last: q.Get("last")}
	if s := q.Get("n"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return pagination{}, fmt.Errorf("invalid page size %q", s)
		}
		p.N = uint32(n)
	}
	return p, nil
}

// setNextLink adds an RFC 5988 Link header pointing at the next page when
// the current page is full.
func setNextLink(w http.ResponseWriter, path string, p pagination, got int, last string) {
	if p.N == 0 || got < int(p.N) || last == "" {
		return
	}
	q := url.Values{}
	q.Set("n", strconv.FormatUint(uint64(p.N), 10))
	q.Set("last", last)
	w.Header().Set("Link", fmt.Sprintf(`<%s?%s>; rel="next"`, path, q.Encode()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleCatalog handles the /v2/_catalog endpoint.
func (r *Registry) handleCatalog(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p, err := parsePagination(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, errCodePaginationInvalid, err.Error(), nil)
		return
	}
	cat, err := r.client.GetCatalog(req.Context(), p.N, p.Last)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	repos := cat.Repos()
	if len(repos) > 0 {
		setNextLink(w, BasePath()+"/_catalog", p, len(repos), repos[len(repos)-1])
	}
	writeJSON(w, http.StatusOK, cat)
}

// handleTagsList handles /v2/<name>/tags/list.
func (r *Registry) handleTagsList(w http.ResponseWriter, req *http.Request, repo regclient.RepoName) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p, err := parsePagination(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, errCodePaginationInvalid, err.Error(), nil)
		return
	}
	tags, err := r.client.GetTags(req.Context(), repo, p.N, p.Last)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	if n := len(tags.Tags); n > 0 {
		setNextLink(w, fmt.Sprintf("%s/%s/tags/list", BasePath(), repo), p, n, tags.Tags[n-1])
	}
	writeJSON(w, http.StatusOK, tags)
}

// handleManifestHistory handles /v2/<name>/manifest_history/<reference>.
func (r *Registry) handleManifestHistory(w http.ResponseWriter, req *http.Request, repo regclient.RepoName, reference string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p, err := parsePagination(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, errCodePaginationInvalid, err.Error(), nil)
		return
	}
	h, err := r.client.GetManifestHistory(req.Context(), repo, reference, p.N, p.Last)
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	if entries := h.Entries(); len(entries) > 0 {
		path := fmt.Sprintf("%s/%s/manifest_history/%s", BasePath(), repo, reference)
		setNextLink(w, path, p, len(entries), entries[len(entries)-1].Digest)
	}
	writeJSON(w, http.StatusOK, h)
}
