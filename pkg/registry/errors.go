// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/yeetrun/trow/pkg/regclient"
)

// Error codes defined by the OCI Distribution Specification that the front
// end emits on its own. Codes for backend failures come from regclient.Kind.
const (
	ErrCodeBlobUnknown       = "BLOB_UNKNOWN"
	ErrCodeBlobUploadInvalid = "BLOB_UPLOAD_INVALID"
	ErrCodeDigestInvalid     = "DIGEST_INVALID"
	ErrCodeManifestUnknown   = "MANIFEST_UNKNOWN"
	ErrCodeNameInvalid       = "NAME_INVALID"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeTooManyRequests   = "TOOMANYREQUESTS"
	ErrCodeSizeInvalid       = "SIZE_INVALID"
)

// ErrorDescriptor represents an OCI registry error.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ErrorResponse represents the OCI-compliant error response format.
type ErrorResponse struct {
	Errors []ErrorDescriptor `json:"errors"`
}

// WriteError writes an OCI-compliant error response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Errors: []ErrorDescriptor{{Code: code, Message: message, Detail: detail}},
	})
}

func (e ErrorDescriptor) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// writeClientError translates a regclient error into an OCI error response.
// onNotFound overrides the generic NAME_UNKNOWN code for read paths.
func (r *Registry) writeClientError(w http.ResponseWriter, req *http.Request, err error, onNotFound string) {
	kind := regclient.KindOf(err)
	code := kind.Code()
	if kind == regclient.KindNotFound && onNotFound != "" {
		code = onNotFound
	}
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", "method", req.Method, "path", req.URL.Path, "err", err)
	} else {
		r.log.Debug("request rejected", "method", req.Method, "path", req.URL.Path, "code", code, "err", err)
	}
	msg := kind.String()
	var ce *regclient.Error
	if errors.As(err, &ce) && ce.Name != "" {
		msg = fmt.Sprintf("%s: %s", kind, ce.Name)
	}
	if req.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	WriteError(w, status, code, msg, nil)
}

func methodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, ErrCodeUnsupported, "method not allowed", nil)
}
