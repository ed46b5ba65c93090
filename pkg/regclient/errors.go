// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yeetrun/trow/pkg/backendrpc"
	"google.golang.org/grpc/codes"
)

// Kind classifies a failed registry operation.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidName
	KindInvalidManifest
	KindInvalidDigest
	KindInvalidContentRange
	KindInvalidNameOrSession
	KindUnsupported
	KindNotFound
	KindInvalidInput
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrInternal             error = KindInternal
	ErrInvalidName          error = KindInvalidName
	ErrInvalidManifest      error = KindInvalidManifest
	ErrInvalidDigest        error = KindInvalidDigest
	ErrInvalidContentRange  error = KindInvalidContentRange
	ErrInvalidNameOrSession error = KindInvalidNameOrSession
	ErrUnsupported          error = KindUnsupported
	ErrNotFound             error = KindNotFound
	ErrInvalidInput         error = KindInvalidInput
)

// ErrExtractionTooDeep is wrapped by the InvalidInput error returned when an
// admission document exceeds MaxExtractionDepth or MaxExtractionNodes.
var ErrExtractionTooDeep = errors.New("document exceeds extraction limits")

var kindNames = [...]string{
	KindInternal:             "internal error",
	KindInvalidName:          "invalid repository or tag",
	KindInvalidManifest:      "invalid manifest",
	KindInvalidDigest:        "invalid digest",
	KindInvalidContentRange:  "invalid content range",
	KindInvalidNameOrSession: "invalid repository or upload session",
	KindUnsupported:          "unsupported",
	KindNotFound:             "not found",
	KindInvalidInput:         "invalid input",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// Code returns the OCI distribution error code for k.
func (k Kind) Code() string {
	switch k {
	case KindInvalidName:
		return "NAME_INVALID"
	case KindInvalidManifest:
		return "MANIFEST_INVALID"
	case KindInvalidDigest:
		return "DIGEST_INVALID"
	case KindInvalidContentRange:
		return "BLOB_UPLOAD_INVALID"
	case KindInvalidNameOrSession:
		return "BLOB_UPLOAD_UNKNOWN"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindNotFound:
		return "NAME_UNKNOWN"
	case KindInvalidInput:
		return "INVALID_INPUT"
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus returns the HTTP status a registry front end reports for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidName, KindInvalidManifest, KindInvalidDigest, KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidContentRange:
		return http.StatusRequestedRangeNotSatisfiable
	case KindInvalidNameOrSession, KindNotFound:
		return http.StatusNotFound
	case KindUnsupported:
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

// Error is returned by every Client operation that fails.
type Error struct {
	Kind Kind
	Op   string
	// Name is the repository, reference or session the operation was about.
	Name string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Name != "" {
		msg = e.Op + " " + e.Name + ": " + e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// codeMap maps backend status codes onto Kinds for one call site. Codes not
// in the map classify as KindInternal.
type codeMap map[codes.Code]Kind

func (m codeMap) classify(err error) Kind {
	if k, ok := m[backendrpc.StatusCode(err)]; ok {
		return k
	}
	return KindInternal
}

func newError(kind Kind, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}
