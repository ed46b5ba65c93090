// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/trow/pkg/backend"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// newTestClient runs a reference backend behind an HTTP server and returns
// a client sharing its memory store.
func newTestClient(t *testing.T) (*Client, *locator.Memory) {
	t.Helper()
	mem := locator.NewMemory()
	b := backend.New(mem, "mem://registry", backend.WithLogger(quietLogger()))
	return newClientFor(t, b.Handler(), mem), mem
}

func newClientFor(t *testing.T, h *backendrpc.Handler, mem *locator.Memory) *Client {
	t.Helper()
	if h.Logger == nil {
		h.Logger = quietLogger()
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rpc := backendrpc.NewClient(srv.URL, backendrpc.WithLogger(quietLogger()))
	t.Cleanup(func() { rpc.Close() })
	return New(rpc, mem, WithLogger(quietLogger()))
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %v", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("kind = %v, want %v (err %v)", got, kind, err)
	}
}

func pushBlob(t *testing.T, c *Client, repo RepoName, data []byte) digest.Digest {
	t.Helper()
	d := digest.FromBytes(data)
	if _, err := c.UploadOneShot(context.Background(), repo, d, bytes.NewReader(data)); err != nil {
		t.Fatalf("UploadOneShot: %v", err)
	}
	return d
}

// pushImage uploads a config and one layer to repo and returns a manifest
// referencing them.
func pushImage(t *testing.T, c *Client, repo RepoName, layer string) []byte {
	t.Helper()
	config := pushBlob(t, c, repo, []byte("{}"))
	l := pushBlob(t, c, repo, []byte(layer))
	m := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: config.OCI(), Size: 2},
		Layers:    []ocispec.Descriptor{{MediaType: ocispec.MediaTypeImageLayer, Digest: l.OCI(), Size: int64(len(layer))}},
	}
	m.SchemaVersion = 2
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	return b
}
