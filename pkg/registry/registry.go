// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/yeetrun/trow/pkg/regclient"
	"github.com/yeetrun/trow/pkg/users"
	"golang.org/x/time/rate"
)

// Authenticator checks basic-auth credentials. *users.Store implements it.
type Authenticator interface {
	Authorize(ctx context.Context, name, password string) (*users.User, error)
}

// Registry serves the OCI distribution API and the operational endpoints on
// top of a regclient.Client.
type Registry struct {
	client    *regclient.Client
	mux       *http.ServeMux
	handler   http.Handler
	log       *log.Logger
	hostNames []string
	auth      Authenticator
	realm     string
	limiter   *rate.Limiter
}

type Option func(*Registry)

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithHostNames sets the names this registry is reachable under. Admission
// requests for images on these hosts are checked against the registry.
func WithHostNames(names ...string) Option {
	return func(r *Registry) { r.hostNames = names }
}

// WithAuth requires basic auth on the /v2/ API.
func WithAuth(a Authenticator, realm string) Option {
	return func(r *Registry) {
		r.auth = a
		r.realm = realm
	}
}

// WithRateLimit bounds the /v2/ API to limit requests per second with the
// given burst. Excess requests get 429 TOOMANYREQUESTS.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(r *Registry) { r.limiter = rate.NewLimiter(limit, burst) }
}

// New returns a registry front end serving requests through client.
func New(client *regclient.Client, opts ...Option) *Registry {
	r := &Registry{
		client: client,
		mux:    http.NewServeMux(),
		log:    log.Default(),
		realm:  "trow",
	}
	for _, o := range opts {
		o(r)
	}
	r.setupRoutes()
	return r
}

// PathType represents the type of registry operation
type PathType int

const (
	PathTypeUnknown PathType = iota
	PathTypeManifest
	PathTypeBlob
	PathTypeBlobUploadInit
	PathTypeBlobUpload
	PathTypeTagsList
	PathTypeManifestHistory
)

func (pt PathType) String() string {
	switch pt {
	case PathTypeManifest:
		return "manifest"
	case PathTypeBlob:
		return "blob"
	case PathTypeBlobUploadInit:
		return "blob_upload_init"
	case PathTypeBlobUpload:
		return "blob_upload"
	case PathTypeTagsList:
		return "tags_list"
	case PathTypeManifestHistory:
		return "manifest_history"
	default:
		return "unknown"
	}
}

// RegistryPath holds the parsed components of a registry path
type RegistryPath struct {
	Type      PathType
	Repo      regclient.RepoName
	Reference string // tag or digest for manifests, digest for blobs, uuid for uploads
}

// ParseRegistryPath parses a /v2/ API path. Repository names may contain
// slashes; the first operation segment ends the name.
func ParseRegistryPath(path string) (*RegistryPath, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v2" {
		return nil, fmt.Errorf("path %q is not a /v2/<name>/<op> path", path)
	}

	opIdx := -1
	for i := 2; i < len(parts) && opIdx < 0; i++ {
		switch parts[i] {
		case "manifests", "blobs", "tags", "manifest_history":
			opIdx = i
		}
	}
	if opIdx < 0 {
		return nil, fmt.Errorf("no valid operation found in %q", path)
	}
	repo, err := regclient.ParseRepoName(strings.Join(parts[1:opIdx], "/"))
	if err != nil {
		return nil, err
	}
	result := &RegistryPath{Repo: repo}
	rest := parts[opIdx+1:]

	switch parts[opIdx] {
	case "manifests", "manifest_history":
		if len(rest) != 1 || rest[0] == "" {
			return nil, fmt.Errorf("%s path needs exactly one reference", parts[opIdx])
		}
		result.Type = PathTypeManifest
		if parts[opIdx] == "manifest_history" {
			result.Type = PathTypeManifestHistory
		}
		result.Reference = rest[0]
	case "blobs":
		switch {
		case len(rest) == 1 && rest[0] == "uploads":
			result.Type = PathTypeBlobUploadInit
		case len(rest) == 2 && rest[0] == "uploads":
			result.Type = PathTypeBlobUpload
			result.Reference = rest[1]
			if result.Reference == "" {
				result.Type = PathTypeBlobUploadInit
			}
		case len(rest) == 1 && rest[0] != "":
			result.Type = PathTypeBlob
			result.Reference = rest[0]
		default:
			return nil, fmt.Errorf("malformed blobs path %q", path)
		}
	case "tags":
		if len(rest) != 1 || rest[0] != "list" {
			return nil, fmt.Errorf("tags path must be tags/list")
		}
		result.Type = PathTypeTagsList
	}
	return result, nil
}

// setupRoutes configures the distribution API and operational routes.
func (r *Registry) setupRoutes() {
	api := http.NewServeMux()
	api.HandleFunc("/v2", r.handleAPIVersion)
	api.HandleFunc("/v2/_catalog", r.handleCatalog)
	api.HandleFunc("/v2/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/v2/" {
			r.handleAPIVersion(w, req)
			return
		}
		p, err := ParseRegistryPath(req.URL.Path)
		if err != nil {
			r.log.Debug("unroutable path", "path", req.URL.Path, "err", err)
			WriteError(w, http.StatusNotFound, ErrCodeNameInvalid, err.Error(), nil)
			return
		}
		switch p.Type {
		case PathTypeManifest:
			r.handleManifest(w, req, p.Repo, p.Reference)
		case PathTypeBlob:
			r.handleBlob(w, req, p.Repo, p.Reference)
		case PathTypeBlobUploadInit:
			r.handleBlobUploadInitiate(w, req, p.Repo)
		case PathTypeBlobUpload:
			r.handleBlobUpload(w, req, p.Repo, regclient.UploadSessionID(p.Reference))
		case PathTypeTagsList:
			r.handleTagsList(w, req, p.Repo)
		case PathTypeManifestHistory:
			r.handleManifestHistory(w, req, p.Repo, p.Reference)
		}
	})

	var v2 http.Handler = api
	if r.auth != nil {
		v2 = r.requireAuth(v2)
	}
	if r.limiter != nil {
		v2 = r.rateLimit(v2)
	}
	r.mux.Handle("/v2", v2)
	r.mux.Handle("/v2/", v2)
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/readiness", r.handleReadiness)
	r.mux.HandleFunc("/metrics", r.handleMetrics)
	r.mux.HandleFunc("/validate-image", r.handleValidateImage)
	r.handler = r.logRequests(r.mux)
}

// ServeHTTP implements http.Handler for the registry.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (r *Registry) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, req)
		r.log.Debug("request", "method", req.Method, "path", req.URL.Path, "status", rec.status)
	})
}

func (r *Registry) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		name, pass, ok := req.BasicAuth()
		if ok {
			_, err := r.auth.Authorize(req.Context(), name, pass)
			if err == nil {
				next.ServeHTTP(w, req)
				return
			}
			r.log.Warn("authentication failed", "user", name, "err", err)
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", r.realm))
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
	})
}

func (r *Registry) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// handleAPIVersion handles the /v2/ endpoint (OCI API version check).
func (r *Registry) handleAPIVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)
}

// BasePath returns the base path for registry URLs.
func BasePath() string {
	return "/v2"
}

// ManifestPath returns the path for a manifest.
func ManifestPath(repo regclient.RepoName, reference string) string {
	return fmt.Sprintf("%s/%s/manifests/%s", BasePath(), repo, reference)
}

// BlobPath returns the path for a blob.
func BlobPath(repo regclient.RepoName, digest string) string {
	return fmt.Sprintf("%s/%s/blobs/%s", BasePath(), repo, digest)
}

// UploadPath returns the path for an upload session.
func UploadPath(repo regclient.RepoName, id regclient.UploadSessionID) string {
	return fmt.Sprintf("%s/%s/blobs/uploads/%s", BasePath(), repo, id)
}
