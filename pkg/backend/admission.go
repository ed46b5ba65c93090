// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"fmt"
	"slices"

	"github.com/distribution/reference"
	"github.com/yeetrun/trow/pkg/backendrpc"
)

// ValidateAdmission allows an image unless it names one of hostNames as its
// registry and is not stored here.
func (b *Backend) ValidateAdmission(ctx context.Context, req backendrpc.AdmissionRequest) (backendrpc.AdmissionResponse, error) {
	for _, image := range req.Images {
		if reason := b.admitImage(image, req.HostNames); reason != "" {
			b.log.Info("admission denied", "image", image, "namespace", req.Namespace, "reason", reason)
			return backendrpc.AdmissionResponse{IsAllowed: false, Reason: reason}, nil
		}
	}
	return backendrpc.AdmissionResponse{IsAllowed: true}, nil
}

// admitImage returns the reason image is denied, or "" if it is allowed.
func (b *Backend) admitImage(image string, hostNames []string) string {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return fmt.Sprintf("Invalid image reference %q: %v", image, err)
	}
	if !slices.Contains(hostNames, reference.Domain(named)) {
		return ""
	}
	repo := reference.Path(named)
	ref := "latest"
	switch v := named.(type) {
	case reference.Digested:
		ref = v.Digest().String()
	case reference.Tagged:
		ref = v.Tag()
	}
	if _, _, err := b.resolveManifest(repo, ref); err != nil {
		return fmt.Sprintf("Local image %s disallowed as not contained in this registry", image)
	}
	return ""
}
