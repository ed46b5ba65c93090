// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry serves the OCI distribution API on top of a
// regclient.Client. It owns HTTP concerns only: routing, header handling,
// pagination, content coding and the mapping of regclient error kinds onto
// OCI error responses. Storage and verification live in the backend.
//
// # Routes
//
//	GET  /v2/                                     API version check
//	GET  /v2/_catalog?n=&last=                    repository list
//	GET  /v2/<name>/tags/list?n=&last=            tag list
//	GET|HEAD|PUT|DELETE /v2/<name>/manifests/<ref>
//	GET|HEAD|DELETE     /v2/<name>/blobs/<digest>
//	POST /v2/<name>/blobs/uploads/[?digest=]      start (or finish) an upload
//	PATCH|PUT|GET /v2/<name>/blobs/uploads/<uuid> chunk, complete, status
//	GET  /v2/<name>/manifest_history/<tag>        digests a tag has pointed at
//	GET  /healthz, /readiness, /metrics
//	POST /validate-image                          admission webhook
//
// Listings set a Link header with rel="next" when a page is full.
//
// # Chunked uploads
//
// A PATCH may carry Content-Range: <start>-<end>. The chunk is accepted only
// if it starts exactly where the upload currently ends and its length
// matches the range; otherwise the response is 416 BLOB_UPLOAD_INVALID and
// nothing is written. Chunks without Content-Range are appended as is.
//
// # Compression
//
// GET responses for manifests and blobs are compressed when the client's
// Accept-Encoding allows it, preferring zstd, then gzip, then deflate.
// Request bodies sent with Content-Encoding zstd, gzip or deflate are
// decoded before they reach the backend.
//
// # Access control
//
// WithAuth requires HTTP basic auth on /v2/ and WithRateLimit bounds its
// request rate. The operational endpoints and the admission webhook are not
// subject to either.
package registry
