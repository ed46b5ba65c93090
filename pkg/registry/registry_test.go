// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/trow/pkg/backend"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"github.com/yeetrun/trow/pkg/regclient"
	"github.com/yeetrun/trow/pkg/users"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// newTestRegistry serves a registry front end backed by a reference
// backend and returns its base URL.
func newTestRegistry(t *testing.T, opts ...Option) string {
	t.Helper()
	mem := locator.NewMemory()
	b := backend.New(mem, "mem://registry", backend.WithLogger(quietLogger()))
	h := b.Handler()
	h.Logger = quietLogger()
	bsrv := httptest.NewServer(h)
	t.Cleanup(bsrv.Close)
	return newRegistryFor(t, bsrv.URL, mem, opts...)
}

func newRegistryFor(t *testing.T, backendURL string, mem *locator.Memory, opts ...Option) string {
	t.Helper()
	rpc := backendrpc.NewClient(backendURL, backendrpc.WithLogger(quietLogger()))
	t.Cleanup(func() { rpc.Close() })
	client := regclient.New(rpc, mem, regclient.WithLogger(quietLogger()))
	opts = append([]Option{WithLogger(quietLogger()), WithHostNames("registry.local")}, opts...)
	srv := httptest.NewServer(New(client, opts...))
	t.Cleanup(srv.Close)
	return srv.URL
}

func do(t *testing.T, method, url string, body io.Reader, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	// Keep the transport from negotiating gzip on its own.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, b
}

func wantStatus(t *testing.T, resp *http.Response, body []byte, status int) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("%s %s: status = %d, want %d (body %s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, body)
	}
}

func wantErrorCode(t *testing.T, body []byte, code string) {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("error body %q: %v", body, err)
	}
	if len(er.Errors) != 1 || er.Errors[0].Code != code {
		t.Fatalf("errors = %+v, want code %s", er.Errors, code)
	}
}

// pushBlob uploads data monolithically and returns its digest.
func pushBlob(t *testing.T, base, repo string, data []byte) digest.Digest {
	t.Helper()
	d := digest.FromBytes(data)
	resp, body := do(t, http.MethodPost, base+"/v2/"+repo+"/blobs/uploads/?digest="+d.String(), bytes.NewReader(data), nil)
	wantStatus(t, resp, body, http.StatusCreated)
	return d
}

func imageManifest(t *testing.T, config, layer digest.Digest, configSize, layerSize int64) []byte {
	t.Helper()
	m := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: config.OCI(), Size: configSize},
		Layers: []ocispec.Descriptor{
			{MediaType: ocispec.MediaTypeImageLayerGzip, Digest: layer.OCI(), Size: layerSize},
		},
	}
	m.SchemaVersion = 2
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// pushImage uploads a config, one layer and a manifest tagged tag.
func pushImage(t *testing.T, base, repo, tag, layer string) ([]byte, digest.Digest) {
	t.Helper()
	config := []byte(`{"architecture":"amd64","os":"linux","layer":"` + layer + `"}`)
	cd := pushBlob(t, base, repo, config)
	ld := pushBlob(t, base, repo, []byte(layer))
	m := imageManifest(t, cd, ld, int64(len(config)), int64(len(layer)))
	resp, body := do(t, http.MethodPut, base+"/v2/"+repo+"/manifests/"+tag, bytes.NewReader(m),
		map[string]string{"Content-Type": ocispec.MediaTypeImageManifest})
	wantStatus(t, resp, body, http.StatusCreated)
	d := digest.FromBytes(m)
	if got := resp.Header.Get("Docker-Content-Digest"); got != d.String() {
		t.Fatalf("Docker-Content-Digest = %q, want %q", got, d)
	}
	return m, d
}

func TestParseRegistryPath(t *testing.T) {
	tests := []struct {
		path    string
		want    RegistryPath
		wantErr bool
	}{
		{path: "/v2/app/manifests/latest", want: RegistryPath{PathTypeManifest, "app", "latest"}},
		{path: "/v2/org/team/app/manifests/sha256:abc", want: RegistryPath{PathTypeManifest, "org/team/app", "sha256:abc"}},
		{path: "/v2/app/blobs/sha256:abc", want: RegistryPath{PathTypeBlob, "app", "sha256:abc"}},
		{path: "/v2/app/blobs/uploads/", want: RegistryPath{PathTypeBlobUploadInit, "app", ""}},
		{path: "/v2/app/blobs/uploads/1234", want: RegistryPath{PathTypeBlobUpload, "app", "1234"}},
		{path: "/v2/a/b/tags/list", want: RegistryPath{PathTypeTagsList, "a/b", ""}},
		{path: "/v2/app/manifest_history/v1", want: RegistryPath{PathTypeManifestHistory, "app", "v1"}},
		{path: "/v2/manifests/latest", wantErr: true},
		{path: "/v2/app/tags/other", wantErr: true},
		{path: "/v2/app/nothing/here", wantErr: true},
		{path: "/v1/app/manifests/latest", wantErr: true},
		{path: "/v2/app/manifests/", wantErr: true},
		{path: "/v2/app/blobs/uploads/1/2", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRegistryPath(tt.path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRegistryPath(%q) = %+v, want error", tt.path, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRegistryPath(%q): %v", tt.path, err)
			continue
		}
		if diff := cmp.Diff(tt.want, *got); diff != "" {
			t.Errorf("ParseRegistryPath(%q) mismatch (-want +got):\n%s", tt.path, diff)
		}
	}
}

func TestAPIVersion(t *testing.T) {
	base := newTestRegistry(t)
	for _, p := range []string{"/v2", "/v2/"} {
		resp, body := do(t, http.MethodGet, base+p, nil, nil)
		wantStatus(t, resp, body, http.StatusOK)
		if got := resp.Header.Get("Docker-Distribution-API-Version"); got != "registry/2.0" {
			t.Errorf("%s: API version header = %q", p, got)
		}
	}
}

func TestChunkedBlobUpload(t *testing.T) {
	base := newTestRegistry(t)

	resp, body := do(t, http.MethodPost, base+"/v2/lib/app/blobs/uploads/", nil, nil)
	wantStatus(t, resp, body, http.StatusAccepted)
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/v2/lib/app/blobs/uploads/") || resp.Header.Get("Docker-Upload-UUID") == "" {
		t.Fatalf("Location = %q, uuid = %q", loc, resp.Header.Get("Docker-Upload-UUID"))
	}

	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader("hello"), map[string]string{"Content-Range": "0-4"})
	wantStatus(t, resp, body, http.StatusAccepted)
	if got := resp.Header.Get("Range"); got != "0-4" {
		t.Errorf("Range after first chunk = %q", got)
	}

	// Retransmitting the first chunk is rejected and leaves the upload intact.
	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader("hello"), map[string]string{"Content-Range": "0-4"})
	wantStatus(t, resp, body, http.StatusRequestedRangeNotSatisfiable)
	wantErrorCode(t, body, "BLOB_UPLOAD_INVALID")

	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader(" world"), map[string]string{"Content-Range": "5-10"})
	wantStatus(t, resp, body, http.StatusAccepted)

	resp, body = do(t, http.MethodGet, base+loc, nil, nil)
	wantStatus(t, resp, body, http.StatusNoContent)
	if got := resp.Header.Get("Range"); got != "0-10" {
		t.Errorf("status Range = %q, want 0-10", got)
	}

	d := digest.FromBytes([]byte("hello world"))
	resp, body = do(t, http.MethodPut, base+loc+"?digest="+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusCreated)
	if got := resp.Header.Get("Location"); got != "/v2/lib/app/blobs/"+d.String() {
		t.Errorf("blob Location = %q", got)
	}

	resp, body = do(t, http.MethodHead, base+"/v2/lib/app/blobs/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if got := resp.Header.Get("Content-Length"); got != "11" {
		t.Errorf("HEAD Content-Length = %q, want 11", got)
	}
	resp, body = do(t, http.MethodGet, base+"/v2/lib/app/blobs/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if string(body) != "hello world" {
		t.Errorf("blob = %q", body)
	}
}

func TestUploadRangeErrors(t *testing.T) {
	base := newTestRegistry(t)
	resp, body := do(t, http.MethodPost, base+"/v2/app/blobs/uploads/", nil, nil)
	wantStatus(t, resp, body, http.StatusAccepted)
	loc := resp.Header.Get("Location")

	// A gap before the first byte.
	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader("abc"), map[string]string{"Content-Range": "2-4"})
	wantStatus(t, resp, body, http.StatusRequestedRangeNotSatisfiable)

	// Declared range disagrees with the body length.
	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader("abc"), map[string]string{"Content-Range": "0-9"})
	wantStatus(t, resp, body, http.StatusRequestedRangeNotSatisfiable)

	resp, body = do(t, http.MethodPatch, base+loc, strings.NewReader("abc"), map[string]string{"Content-Range": "garbage"})
	wantStatus(t, resp, body, http.StatusRequestedRangeNotSatisfiable)

	resp, body = do(t, http.MethodPatch, base+"/v2/app/blobs/uploads/no-such-session", strings.NewReader("abc"), nil)
	wantStatus(t, resp, body, http.StatusNotFound)
	wantErrorCode(t, body, "BLOB_UPLOAD_UNKNOWN")

	resp, body = do(t, http.MethodPut, base+loc, nil, nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "DIGEST_INVALID")

	wrong := digest.FromBytes([]byte("other"))
	resp, body = do(t, http.MethodPut, base+loc+"?digest="+wrong.String(), strings.NewReader("abc"), nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "DIGEST_INVALID")
}

func TestMonolithicUploadDecodesBody(t *testing.T) {
	base := newTestRegistry(t)
	data := []byte(strings.Repeat("layer data ", 100))
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()

	d := digest.FromBytes(data)
	resp, body := do(t, http.MethodPost, base+"/v2/app/blobs/uploads/?digest="+d.String(), &buf,
		map[string]string{"Content-Encoding": "gzip"})
	wantStatus(t, resp, body, http.StatusCreated)

	resp, body = do(t, http.MethodGet, base+"/v2/app/blobs/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if !bytes.Equal(body, data) {
		t.Errorf("stored blob differs from decoded upload")
	}

	resp, body = do(t, http.MethodPost, base+"/v2/app/blobs/uploads/?digest="+d.String(), strings.NewReader("x"),
		map[string]string{"Content-Encoding": "br"})
	wantStatus(t, resp, body, http.StatusBadRequest)
}

func TestBlobErrors(t *testing.T) {
	base := newTestRegistry(t)
	missing := digest.FromBytes([]byte("missing"))
	resp, body := do(t, http.MethodGet, base+"/v2/app/blobs/"+missing.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusNotFound)
	wantErrorCode(t, body, "BLOB_UNKNOWN")

	resp, body = do(t, http.MethodHead, base+"/v2/app/blobs/"+missing.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusNotFound)

	resp, body = do(t, http.MethodGet, base+"/v2/app/blobs/md5:1234", nil, nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, ErrCodeDigestInvalid)

	resp, body = do(t, http.MethodPost, base+"/v2/app/blobs/"+missing.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusMethodNotAllowed)

	d := pushBlob(t, base, "app", []byte("gone soon"))
	resp, body = do(t, http.MethodDelete, base+"/v2/app/blobs/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusAccepted)
	resp, body = do(t, http.MethodGet, base+"/v2/app/blobs/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusNotFound)
}

func TestManifestLifecycle(t *testing.T) {
	base := newTestRegistry(t)
	m, d := pushImage(t, base, "team/app", "v1", "layer one")

	resp, body := do(t, http.MethodGet, base+"/v2/team/app/manifests/v1", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if !bytes.Equal(body, m) {
		t.Errorf("manifest body = %s", body)
	}
	if got := resp.Header.Get("Content-Type"); got != ocispec.MediaTypeImageManifest {
		t.Errorf("Content-Type = %q", got)
	}

	resp, body = do(t, http.MethodHead, base+"/v2/team/app/manifests/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if got := resp.Header.Get("Docker-Content-Digest"); got != d.String() {
		t.Errorf("HEAD digest = %q", got)
	}

	resp, body = do(t, http.MethodGet, base+"/v2/team/app/manifests/v1", nil, map[string]string{"Accept-Encoding": "zstd, gzip;q=0.5"})
	wantStatus(t, resp, body, http.StatusOK)
	if got := resp.Header.Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("Content-Encoding = %q, want zstd", got)
	}
	zr, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(zr)
	zr.Close()
	if err != nil || !bytes.Equal(plain, m) {
		t.Errorf("decoded manifest = %s, %v", plain, err)
	}

	resp, body = do(t, http.MethodDelete, base+"/v2/team/app/manifests/v1", nil, nil)
	wantStatus(t, resp, body, http.StatusMethodNotAllowed)
	wantErrorCode(t, body, ErrCodeUnsupported)

	resp, body = do(t, http.MethodDelete, base+"/v2/team/app/manifests/"+d.String(), nil, nil)
	wantStatus(t, resp, body, http.StatusAccepted)

	resp, body = do(t, http.MethodGet, base+"/v2/team/app/manifests/v1", nil, nil)
	wantStatus(t, resp, body, http.StatusNotFound)
	wantErrorCode(t, body, ErrCodeManifestUnknown)
}

func TestManifestPutErrors(t *testing.T) {
	base := newTestRegistry(t)

	resp, body := do(t, http.MethodPut, base+"/v2/app/manifests/v1", strings.NewReader("{not json"), nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "MANIFEST_INVALID")

	missing := digest.FromBytes([]byte("missing"))
	m := imageManifest(t, missing, missing, 7, 7)
	resp, body = do(t, http.MethodPut, base+"/v2/app/manifests/v1", bytes.NewReader(m),
		map[string]string{"Content-Type": ocispec.MediaTypeImageIndex})
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "MANIFEST_INVALID")

	resp, body = do(t, http.MethodPut, base+"/v2/app/manifests/v1", bytes.NewReader(m),
		map[string]string{"Content-Type": ocispec.MediaTypeImageManifest})
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "MANIFEST_INVALID")

	resp, body = do(t, http.MethodPut, base+"/v2/Bad..Name/manifests/v1", bytes.NewReader(m), nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, "NAME_INVALID")
}

func TestListings(t *testing.T) {
	base := newTestRegistry(t)
	pushImage(t, base, "alpha", "v1", "a1")
	pushImage(t, base, "alpha", "v2", "a2")
	pushImage(t, base, "alpha", "v3", "a3")
	pushImage(t, base, "beta", "latest", "b1")

	resp, body := do(t, http.MethodGet, base+"/v2/_catalog", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	var cat struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.Unmarshal(body, &cat); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, cat.Repositories); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}

	resp, body = do(t, http.MethodGet, base+"/v2/alpha/tags/list?n=2", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	var tags regclient.TagList
	if err := json.Unmarshal(body, &tags); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(regclient.TagList{Name: "alpha", Tags: []string{"v1", "v2"}}, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if got, want := resp.Header.Get("Link"), `</v2/alpha/tags/list?last=v2&n=2>; rel="next"`; got != want {
		t.Errorf("Link = %q, want %q", got, want)
	}

	resp, body = do(t, http.MethodGet, base+"/v2/alpha/tags/list?n=2&last=v2", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	tags = regclient.TagList{}
	json.Unmarshal(body, &tags)
	if diff := cmp.Diff([]string{"v3"}, tags.Tags); diff != "" {
		t.Errorf("second page mismatch (-want +got):\n%s", diff)
	}
	if got := resp.Header.Get("Link"); got != "" {
		t.Errorf("last page has Link %q", got)
	}

	resp, body = do(t, http.MethodGet, base+"/v2/_catalog?n=abc", nil, nil)
	wantStatus(t, resp, body, http.StatusBadRequest)
	wantErrorCode(t, body, errCodePaginationInvalid)
}

func TestManifestHistoryEndpoint(t *testing.T) {
	base := newTestRegistry(t)
	_, d1 := pushImage(t, base, "app", "latest", "one")
	_, d2 := pushImage(t, base, "app", "latest", "two")

	resp, body := do(t, http.MethodGet, base+"/v2/app/manifest_history/latest", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	var h struct {
		Image   string `json:"image"`
		History []struct {
			Digest string `json:"digest"`
		} `json:"history"`
	}
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Image != "app:latest" {
		t.Errorf("image = %q", h.Image)
	}
	var got []string
	for _, e := range h.History {
		got = append(got, e.Digest)
	}
	if diff := cmp.Diff([]string{d1.String(), d2.String()}, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	base := newTestRegistry(t)
	resp, body := do(t, http.MethodGet, base+"/healthz", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	var hs regclient.HealthStatus
	if err := json.Unmarshal(body, &hs); err != nil || !hs.IsHealthy {
		t.Errorf("healthz = %s (%v)", body, err)
	}
	resp, body = do(t, http.MethodGet, base+"/readiness", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)

	pushBlob(t, base, "app", []byte("counted"))
	resp, body = do(t, http.MethodGet, base+"/metrics", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), "trow_blobs 1") {
		t.Errorf("metrics missing blob count:\n%s", body)
	}
}

func TestProbesBackendDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	base := newRegistryFor(t, url, locator.NewMemory())

	resp, body := do(t, http.MethodGet, base+"/healthz", nil, nil)
	wantStatus(t, resp, body, http.StatusServiceUnavailable)
	var hs regclient.HealthStatus
	json.Unmarshal(body, &hs)
	if hs.IsHealthy || hs.Message != "failed to connect to registry backend" {
		t.Errorf("healthz = %+v", hs)
	}
	resp, body = do(t, http.MethodGet, base+"/readiness", nil, nil)
	wantStatus(t, resp, body, http.StatusServiceUnavailable)
	resp, body = do(t, http.MethodGet, base+"/metrics", nil, nil)
	wantStatus(t, resp, body, http.StatusInternalServerError)
}

func postReview(t *testing.T, base string, object string) regclient.AdmissionResponse {
	t.Helper()
	review := `{"apiVersion":"admission.k8s.io/v1","kind":"AdmissionReview","request":{"uid":"abc-123","operation":"CREATE","namespace":"default","object":` + object + `}}`
	resp, body := do(t, http.MethodPost, base+"/validate-image", strings.NewReader(review), nil)
	wantStatus(t, resp, body, http.StatusOK)
	var out admissionReview
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Kind != "AdmissionReview" || out.Response == nil || out.Response.UID != "abc-123" {
		t.Fatalf("review = %s", body)
	}
	return *out.Response
}

func TestValidateImage(t *testing.T) {
	base := newTestRegistry(t)
	pushImage(t, base, "app", "v1", "layer")

	pod := func(images ...string) string {
		var cs []string
		for _, im := range images {
			cs = append(cs, `{"name":"c","image":"`+im+`"}`)
		}
		return `{"spec":{"containers":[` + strings.Join(cs, ",") + `]}}`
	}

	if r := postReview(t, base, pod("registry.local/app:v1", "nginx:latest")); !r.Allowed {
		t.Errorf("stored image denied: %+v", r)
	}
	r := postReview(t, base, pod("registry.local/app:v1", "registry.local/missing:v1"))
	if r.Allowed || r.Status == nil || r.Status.Message == nil || !strings.Contains(*r.Status.Message, "registry.local/missing:v1") {
		t.Errorf("missing local image allowed: %+v", r)
	}

	deep := strings.Repeat("[", regclient.MaxExtractionDepth+1) + strings.Repeat("]", regclient.MaxExtractionDepth+1)
	r = postReview(t, base, deep)
	if r.Allowed || r.Status == nil || r.Status.Code == nil || *r.Status.Code != http.StatusBadRequest {
		t.Errorf("deep document not rejected: %+v", r)
	}

	resp, body := do(t, http.MethodPost, base+"/validate-image", strings.NewReader(`{"kind":"AdmissionReview"}`), nil)
	wantStatus(t, resp, body, http.StatusBadRequest)

	oldMax := maxAdmissionReviewSize
	maxAdmissionReviewSize = 256
	big := `{"request":{"uid":"abc-123","object":{"pad":"` + strings.Repeat("x", 512) + `"}}}`
	resp, body = do(t, http.MethodPost, base+"/validate-image", strings.NewReader(big), nil)
	maxAdmissionReviewSize = oldMax
	wantStatus(t, resp, body, http.StatusRequestEntityTooLarge)
	wantErrorCode(t, body, ErrCodeSizeInvalid)

	// Repeated member names are accepted.
	r = postReview(t, base, `{"spec":{"containers":[{"name":"x","image":"registry.local/app:v1","name":"y"}]}}`)
	if !r.Allowed {
		t.Errorf("document with repeated member names denied: %+v", r)
	}
}

type fakeAuth map[string]string

func (f fakeAuth) Authorize(ctx context.Context, name, password string) (*users.User, error) {
	if p, ok := f[name]; ok && p == password {
		return &users.User{Name: name, Active: true}, nil
	}
	return nil, users.ErrInvalidCredentials
}

func TestBasicAuth(t *testing.T) {
	base := newTestRegistry(t, WithAuth(fakeAuth{"alice": "secret"}, "trow-test"))

	resp, body := do(t, http.MethodGet, base+"/v2/", nil, nil)
	wantStatus(t, resp, body, http.StatusUnauthorized)
	wantErrorCode(t, body, ErrCodeUnauthorized)
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="trow-test"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/v2/", nil)
	req.SetBasicAuth("alice", "wrong")
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", r2.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, base+"/v2/", nil)
	req.SetBasicAuth("alice", "secret")
	r3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r3.Body.Close()
	if r3.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d", r3.StatusCode)
	}

	resp, body = do(t, http.MethodGet, base+"/healthz", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
}

func TestRateLimit(t *testing.T) {
	base := newTestRegistry(t, WithRateLimit(0, 1))
	resp, body := do(t, http.MethodGet, base+"/v2/", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
	resp, body = do(t, http.MethodGet, base+"/v2/", nil, nil)
	wantStatus(t, resp, body, http.StatusTooManyRequests)
	wantErrorCode(t, body, ErrCodeTooManyRequests)

	// Operational endpoints are not limited.
	resp, body = do(t, http.MethodGet, base+"/healthz", nil, nil)
	wantStatus(t, resp, body, http.StatusOK)
}

func TestWriteClientError(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	tests := []struct {
		err        error
		onNotFound string
		status     int
		code       string
	}{
		{&regclient.Error{Kind: regclient.KindNotFound, Op: "get blob", Name: "app"}, ErrCodeBlobUnknown, 404, "BLOB_UNKNOWN"},
		{&regclient.Error{Kind: regclient.KindNotFound}, "", 404, "NAME_UNKNOWN"},
		{&regclient.Error{Kind: regclient.KindInvalidContentRange}, "", 416, "BLOB_UPLOAD_INVALID"},
		{&regclient.Error{Kind: regclient.KindUnsupported}, "", 405, "UNSUPPORTED"},
		{errors.New("plain"), "", 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v2/app/blobs/x", nil)
		r.writeClientError(w, req, tt.err, tt.onNotFound)
		if w.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.status)
		}
		wantErrorCode(t, w.Body.Bytes(), tt.code)
	}
}
