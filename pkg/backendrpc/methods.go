// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backendrpc

import "time"

// Unary methods.
const (
	MethodRequestUpload              = "Registry.RequestUpload"
	MethodGetWriteLocationForBlob    = "Registry.GetWriteLocationForBlob"
	MethodCompleteUpload             = "Registry.CompleteUpload"
	MethodGetReadLocationForBlob     = "Registry.GetReadLocationForBlob"
	MethodDeleteBlob                 = "Registry.DeleteBlob"
	MethodGetWriteDetailsForManifest = "Registry.GetWriteDetailsForManifest"
	MethodGetReadLocationForManifest = "Registry.GetReadLocationForManifest"
	MethodVerifyManifest             = "Registry.VerifyManifest"
	MethodDeleteManifest             = "Registry.DeleteManifest"
	MethodIsHealthy                  = "Registry.IsHealthy"
	MethodIsReady                    = "Registry.IsReady"
	MethodGetMetrics                 = "Registry.GetMetrics"
	MethodValidateAdmission          = "AdmissionController.ValidateAdmission"
)

// Streaming methods.
const (
	MethodGetManifestHistory = "Registry.GetManifestHistory"
	MethodGetCatalog         = "Registry.GetCatalog"
	MethodListTags           = "Registry.ListTags"
)

type UploadRequest struct {
	RepoName string `json:"repoName"`
}

type UploadDetails struct {
	UUID string `json:"uuid"`
}

type UploadRef struct {
	UUID     string `json:"uuid"`
	RepoName string `json:"repoName"`
}

// WriteLocation is an opaque locator the caller opens for appending.
type WriteLocation struct {
	Path string `json:"path"`
}

type CompleteRequest struct {
	RepoName   string `json:"repoName"`
	UUID       string `json:"uuid"`
	UserDigest string `json:"userDigest"`
}

type CompletedUpload struct {
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

type BlobRef struct {
	RepoName string `json:"repoName"`
	Digest   string `json:"digest"`
}

type BlobReadLocation struct {
	Path string `json:"path"`
}

type BlobDeleted struct{}

type ManifestRef struct {
	RepoName  string `json:"repoName"`
	Reference string `json:"reference"`
}

type ManifestWriteDetails struct {
	Path string `json:"path"`
	UUID string `json:"uuid"`
}

type ManifestReadLocation struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
	Digest      string `json:"digest"`
}

type VerifyManifestRequest struct {
	Manifest ManifestRef `json:"manifest"`
	UUID     string      `json:"uuid"`
}

type VerifiedManifest struct {
	Digest      string `json:"digest"`
	ContentType string `json:"contentType"`
}

type ManifestDeleted struct{}

type ManifestHistoryRequest struct {
	RepoName   string `json:"repoName"`
	Tag        string `json:"tag"`
	Limit      uint32 `json:"limit"`
	LastDigest string `json:"lastDigest"`
}

// ManifestHistoryEntry is one streamed history record. Date is nil when the
// backend stored the digest without a timestamp.
type ManifestHistoryEntry struct {
	Digest string     `json:"digest"`
	Date   *time.Time `json:"date,omitempty"`
}

type CatalogRequest struct {
	Limit    uint32 `json:"limit"`
	LastRepo string `json:"lastRepo"`
}

type CatalogEntry struct {
	RepoName string `json:"repoName"`
}

type ListTagsRequest struct {
	RepoName string `json:"repoName"`
	Limit    uint32 `json:"limit"`
	LastTag  string `json:"lastTag"`
}

type Tag struct {
	Tag string `json:"tag"`
}

type AdmissionRequest struct {
	Images    []string `json:"images"`
	Namespace string   `json:"namespace"`
	Operation string   `json:"operation"`
	HostNames []string `json:"hostNames"`
}

type AdmissionResponse struct {
	IsAllowed bool   `json:"isAllowed"`
	Reason    string `json:"reason,omitempty"`
}

type HealthRequest struct{}

type HealthStatus struct {
	Message string `json:"message"`
}

type ReadinessRequest struct{}

type ReadyStatus struct {
	Message string `json:"message"`
}

type MetricsRequest struct{}

type MetricsResponse struct {
	Metrics string `json:"metrics"`
}
