// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/yeetrun/trow/pkg/backendrpc"
)

func (b *Backend) IsHealthy(ctx context.Context, _ backendrpc.HealthRequest) (backendrpc.HealthStatus, error) {
	return backendrpc.HealthStatus{Message: "OK"}, nil
}

func (b *Backend) IsReady(ctx context.Context, _ backendrpc.ReadinessRequest) (backendrpc.ReadyStatus, error) {
	return backendrpc.ReadyStatus{Message: "Ready"}, nil
}

// GetMetrics reports counters in the Prometheus text exposition format.
func (b *Backend) GetMetrics(ctx context.Context, _ backendrpc.MetricsRequest) (backendrpc.MetricsResponse, error) {
	b.mu.RLock()
	var blobs, manifests, tags int
	for _, r := range b.repos {
		blobs += len(r.blobs)
		manifests += len(r.manifests)
		tags += len(r.tags)
	}
	repos := len(b.repos)
	b.mu.RUnlock()

	var sb strings.Builder
	metric := func(name, help string, v int64) {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	metric("trow_repositories", "Repositories known to the backend.", int64(repos))
	metric("trow_blobs", "Blob links across all repositories.", int64(blobs))
	metric("trow_manifests", "Manifests across all repositories.", int64(manifests))
	metric("trow_tags", "Tags across all repositories.", int64(tags))
	metric("trow_uploads_total", "Blob uploads started.", b.stats.uploads.Load())
	metric("trow_blob_reads_total", "Blob read locations served.", b.stats.blobReads.Load())
	metric("trow_manifest_reads_total", "Manifest read locations served.", b.stats.manifestReads.Load())
	metric("trow_manifest_writes_total", "Manifests verified and stored.", b.stats.manifestWrites.Load())
	return backendrpc.MetricsResponse{Metrics: sb.String()}, nil
}
