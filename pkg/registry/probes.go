// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yeetrun/trow/pkg/regclient"
)

func (r *Registry) handleHealthz(w http.ResponseWriter, req *http.Request) {
	st := r.client.IsHealthy(req.Context())
	status := http.StatusOK
	if !st.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

func (r *Registry) handleReadiness(w http.ResponseWriter, req *http.Request) {
	st := r.client.IsReady(req.Context())
	status := http.StatusOK
	if !st.IsReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

func (r *Registry) handleMetrics(w http.ResponseWriter, req *http.Request) {
	m, err := r.client.GetMetrics(req.Context())
	if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	io.WriteString(w, m.Payload)
}

const admissionAPIVersion = "admission.k8s.io/v1"

// maxAdmissionReviewSize bounds /validate-image request bodies.
var maxAdmissionReviewSize int64 = 3 << 20

// admissionReview is the envelope Kubernetes posts to validating webhooks.
type admissionReview struct {
	APIVersion string                       `json:"apiVersion"`
	Kind       string                       `json:"kind"`
	Request    *regclient.AdmissionRequest  `json:"request,omitempty"`
	Response   *regclient.AdmissionResponse `json:"response,omitempty"`
}

// handleValidateImage answers a validating admission webhook call. A
// document the extractor refuses is denied rather than failed, so the
// cluster's failure policy only applies when the backend is unreachable.
func (r *Registry) handleValidateImage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var review admissionReview
	err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxAdmissionReviewSize)).Decode(&review)
	if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
		WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeSizeInvalid, "AdmissionReview too large", nil)
		return
	}
	if err != nil || review.Request == nil {
		WriteError(w, http.StatusBadRequest, regclient.KindInvalidInput.Code(), "body is not an AdmissionReview request", nil)
		return
	}
	resp, err := r.client.ValidateAdmission(req.Context(), *review.Request, r.hostNames)
	if errors.Is(err, regclient.ErrInvalidInput) {
		msg := err.Error()
		code := http.StatusBadRequest
		resp = regclient.AdmissionResponse{
			UID:     review.Request.UID,
			Allowed: false,
			Status:  &regclient.AdmissionStatus{Status: "Failure", Message: &msg, Code: &code},
		}
	} else if err != nil {
		r.writeClientError(w, req, err, "")
		return
	}
	apiVersion := review.APIVersion
	if apiVersion == "" {
		apiVersion = admissionAPIVersion
	}
	writeJSON(w, http.StatusOK, admissionReview{
		APIVersion: apiVersion,
		Kind:       "AdmissionReview",
		Response:   &resp,
	})
}
