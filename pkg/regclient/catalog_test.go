// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/locator"
	"google.golang.org/grpc/codes"
)

func TestCatalogAndTags(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	for _, repo := range []RepoName{"zeta", "alpha", "mid"} {
		pushBlob(t, c, repo, []byte(repo))
	}
	data := pushImage(t, c, "alpha", "layer")
	for _, tag := range []string{"b", "c", "a"} {
		if _, err := c.StoreManifest(ctx, "alpha", tag, bytes.NewReader(data)); err != nil {
			t.Fatalf("StoreManifest: %v", err)
		}
	}

	cat, err := c.GetCatalog(ctx, 0, "")
	if err != nil {
		t.Fatalf("GetCatalog: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, cat.Repos()); diff != "" {
		t.Fatalf("catalog mismatch (-want +got):\n%s", diff)
	}
	cat, err = c.GetCatalog(ctx, 1, "alpha")
	if err != nil {
		t.Fatalf("GetCatalog page: %v", err)
	}
	if diff := cmp.Diff([]string{"mid"}, cat.Repos()); diff != "" {
		t.Fatalf("catalog page mismatch (-want +got):\n%s", diff)
	}

	tags, err := c.GetTags(ctx, "alpha", 2, "")
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if diff := cmp.Diff(&TagList{Name: "alpha", Tags: []string{"a", "b"}}, tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}

	_, err = c.GetTags(ctx, "unknown", 0, "")
	wantKind(t, err, KindInternal)
}

func TestCatalogKeepsStreamOrder(t *testing.T) {
	h := &backendrpc.Handler{Streams: map[string]backendrpc.StreamFunc{
		backendrpc.MethodGetCatalog: func(ctx context.Context, params json.RawMessage, send func(any) error) error {
			for _, name := range []string{"b", "a", "b", "c", "a"} {
				send(backendrpc.CatalogEntry{RepoName: name})
			}
			return nil
		},
		backendrpc.MethodListTags: func(ctx context.Context, params json.RawMessage, send func(any) error) error {
			var req backendrpc.ListTagsRequest
			json.Unmarshal(params, &req)
			if req.Limit != 1<<32-1 {
				return backendrpc.Errorf(codes.InvalidArgument, "limit %d", req.Limit)
			}
			for _, tag := range []string{"v2", "v10", "v1"} {
				send(backendrpc.Tag{Tag: tag})
			}
			return nil
		},
	}}
	c := newClientFor(t, h, locator.NewMemory())

	cat, err := c.GetCatalog(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("GetCatalog: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, cat.Repos()); diff != "" {
		t.Fatalf("catalog mismatch (-want +got):\n%s", diff)
	}
	b, _ := json.Marshal(cat)
	if string(b) != `{"repositories":["b","a","c"]}` {
		t.Fatalf("catalog JSON = %s", b)
	}

	tags, err := c.GetTags(context.Background(), "app", 0, "")
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if diff := cmp.Diff([]string{"v2", "v10", "v1"}, tags.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestListingFailsAtomically(t *testing.T) {
	h := &backendrpc.Handler{Streams: map[string]backendrpc.StreamFunc{
		backendrpc.MethodGetCatalog: func(ctx context.Context, params json.RawMessage, send func(any) error) error {
			send(backendrpc.CatalogEntry{RepoName: "a"})
			return backendrpc.Errorf(codes.Internal, "boom")
		},
		backendrpc.MethodListTags: func(ctx context.Context, params json.RawMessage, send func(any) error) error {
			send(backendrpc.Tag{Tag: "a"})
			return backendrpc.Errorf(codes.NotFound, "gone")
		},
	}}
	c := newClientFor(t, h, locator.NewMemory())

	cat, err := c.GetCatalog(context.Background(), 10, "")
	wantKind(t, err, KindInternal)
	if cat != nil {
		t.Fatalf("partial catalog returned: %v", cat.Repos())
	}
	tags, err := c.GetTags(context.Background(), "app", 10, "")
	wantKind(t, err, KindInternal)
	if tags != nil {
		t.Fatalf("partial tags returned: %v", tags)
	}
}
