// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/yeetrun/trow/pkg/digest"
)

// RepoName names a repository. The backend validates it on every call; the
// client only rejects the empty name.
type RepoName string

func ParseRepoName(s string) (RepoName, error) {
	if s == "" {
		return "", errors.New("empty repository name")
	}
	return RepoName(s), nil
}

func (r RepoName) String() string { return string(r) }

// UploadSessionID is the opaque, backend-assigned id of an upload.
type UploadSessionID string

func (id UploadSessionID) String() string { return string(id) }

// UploadSession is the caller's handle on an in-progress blob upload.
// Offset is the number of bytes written so far and never decreases.
type UploadSession struct {
	ID     UploadSessionID
	Repo   RepoName
	Offset int64
}

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

// ParseRange parses "start-end" as sent in a Content-Range header. A
// "bytes=" or "bytes " prefix is accepted.
func ParseRange(s string) (Range, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "bytes="), "bytes ")
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q", s)
	}
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range start %q", a)
	}
	end, err := strconv.ParseInt(b, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range end %q", b)
	}
	if start < 0 || end < start {
		return Range{}, fmt.Errorf("invalid range %d-%d", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int64 { return r.End - r.Start + 1 }

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// ContentInfo declares the length and position of one chunk.
type ContentInfo struct {
	Length int64
	Range  Range
}

// Valid reports whether the declared length matches the declared range.
func (c ContentInfo) Valid() bool {
	return c.Range.Start >= 0 && c.Range.End >= c.Range.Start && c.Range.Len() == c.Length
}

// AcceptedUpload describes a blob the backend has verified and stored.
type AcceptedUpload struct {
	Digest  digest.Digest
	Repo    RepoName
	Session UploadSessionID
	Range   Range
}

// VerifiedManifest is produced only after backend verification succeeds.
type VerifiedManifest struct {
	Repo        RepoName
	Digest      digest.Digest
	Reference   string
	ContentType string
}

type ManifestReader struct {
	io.ReadCloser
	ContentType string
	Digest      digest.Digest
	Size        int64
}

type BlobReader struct {
	io.ReadCloser
	Digest digest.Digest
	Size   int64
}

// RepoCatalog accumulates repository names, dropping duplicates and keeping
// first-seen order.
type RepoCatalog struct {
	repos []string
	seen  map[string]struct{}
}

func (c *RepoCatalog) Insert(name string) {
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.repos = append(c.repos, name)
}

func (c *RepoCatalog) Repos() []string { return c.repos }

func (c *RepoCatalog) Len() int { return len(c.repos) }

func (c RepoCatalog) MarshalJSON() ([]byte, error) {
	repos := c.repos
	if repos == nil {
		repos = []string{}
	}
	return json.Marshal(struct {
		Repositories []string `json:"repositories"`
	}{repos})
}

// TagList is the ordered set of tags of one repository.
type TagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func (l *TagList) Insert(tag string) {
	l.Tags = append(l.Tags, tag)
}

type HistoryEntry struct {
	Digest string    `json:"digest"`
	Date   time.Time `json:"date"`
}

// ManifestHistory records which digests a repo:tag has pointed at, in the
// order the backend reported them.
type ManifestHistory struct {
	Image   string
	entries []HistoryEntry
	index   map[string]int
}

func NewManifestHistory(image string) *ManifestHistory {
	return &ManifestHistory{Image: image, index: make(map[string]int)}
}

// Insert appends d, or updates its date in place if already present.
func (h *ManifestHistory) Insert(d string, date time.Time) {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[d]; ok {
		h.entries[i].Date = date
		return
	}
	h.index[d] = len(h.entries)
	h.entries = append(h.entries, HistoryEntry{Digest: d, Date: date})
}

func (h *ManifestHistory) Entries() []HistoryEntry { return h.entries }

func (h *ManifestHistory) MarshalJSON() ([]byte, error) {
	entries := h.entries
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return json.Marshal(struct {
		Image   string         `json:"image"`
		History []HistoryEntry `json:"history"`
	}{h.Image, entries})
}

// AdmissionRequest is the request half of a Kubernetes AdmissionReview.
type AdmissionRequest struct {
	UID       string          `json:"uid"`
	Kind      json.RawMessage `json:"kind,omitempty"`
	Resource  json.RawMessage `json:"resource,omitempty"`
	Operation string          `json:"operation"`
	Namespace string          `json:"namespace,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
}

type AdmissionStatus struct {
	Status  string  `json:"status"`
	Message *string `json:"message,omitempty"`
	Code    *int    `json:"code,omitempty"`
}

// AdmissionResponse is the response half of a Kubernetes AdmissionReview.
type AdmissionResponse struct {
	UID     string           `json:"uid"`
	Allowed bool             `json:"allowed"`
	Status  *AdmissionStatus `json:"status,omitempty"`
}

type HealthStatus struct {
	IsHealthy bool   `json:"is_healthy"`
	Message   string `json:"message"`
}

type ReadinessStatus struct {
	IsReady bool   `json:"is_ready"`
	Message string `json:"message"`
}

// Metrics is the backend's metrics payload, passed through unchanged.
type Metrics struct {
	Payload string
}
