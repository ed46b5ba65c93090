// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regclient

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/yeetrun/trow/pkg/backendrpc"
)

// Limits applied to untrusted admission documents.
const (
	MaxExtractionDepth = 64
	MaxExtractionNodes = 100000
)

type extractFrame struct {
	object  bool
	wantKey bool
}

// ExtractImages returns the string value of every "image" key in the JSON
// document read from r, in document order. An "image" key whose value is not
// a string is skipped without being searched. Documents nested deeper than
// MaxExtractionDepth or with more than MaxExtractionNodes values fail with
// an InvalidInput error wrapping ErrExtractionTooDeep.
func ExtractImages(r io.Reader) ([]string, error) {
	const op = "extract images"
	dec := jsontext.NewDecoder(r, jsontext.AllowDuplicateNames(true))
	images := []string{}
	var stack []extractFrame
	nodes := 0

	for {
		if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].wantKey {
			tok, err := dec.ReadToken()
			if err != nil {
				return nil, newError(KindInvalidInput, op, "", err)
			}
			if tok.Kind() == '}' {
				stack = stack[:n-1]
				if len(stack) == 0 {
					return images, nil
				}
				continue
			}
			stack[n-1].wantKey = false
			if tok.String() != "image" {
				continue
			}
			stack[n-1].wantKey = true
			if nodes++; nodes > MaxExtractionNodes {
				return nil, newError(KindInvalidInput, op, "", ErrExtractionTooDeep)
			}
			if dec.PeekKind() != '"' {
				if err := dec.SkipValue(); err != nil {
					return nil, newError(KindInvalidInput, op, "", err)
				}
				continue
			}
			v, err := dec.ReadToken()
			if err != nil {
				return nil, newError(KindInvalidInput, op, "", err)
			}
			images = append(images, v.String())
			continue
		}

		tok, err := dec.ReadToken()
		if err != nil {
			if errors.Is(err, io.EOF) && len(stack) == 0 && nodes == 0 {
				return images, nil
			}
			return nil, newError(KindInvalidInput, op, "", err)
		}
		if tok.Kind() == ']' {
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return images, nil
			}
			continue
		}
		if nodes++; nodes > MaxExtractionNodes {
			return nil, newError(KindInvalidInput, op, "", ErrExtractionTooDeep)
		}
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].wantKey = true
		}
		switch tok.Kind() {
		case '{', '[':
			if len(stack) >= MaxExtractionDepth {
				return nil, newError(KindInvalidInput, op, "", ErrExtractionTooDeep)
			}
			stack = append(stack, extractFrame{object: tok.Kind() == '{', wantKey: true})
		default:
			if len(stack) == 0 {
				return images, nil
			}
		}
	}
}

// ValidateAdmission extracts the images referenced by req.Object and asks
// the backend whether they may run.
func (c *Client) ValidateAdmission(ctx context.Context, req AdmissionRequest, hostNames []string) (AdmissionResponse, error) {
	const op = "validate admission"
	c.log.Info("validating admission request", "uid", req.UID, "host_names", hostNames)
	var images []string
	if len(req.Object) > 0 {
		var err error
		if images, err = ExtractImages(bytes.NewReader(req.Object)); err != nil {
			c.log.Warn("rejecting admission document", "uid", req.UID, "err", err)
			return AdmissionResponse{}, err
		}
	}

	var resp backendrpc.AdmissionResponse
	err := c.rpc.Call(ctx, backendrpc.MethodValidateAdmission, backendrpc.AdmissionRequest{
		Images:    images,
		Namespace: req.Namespace,
		Operation: req.Operation,
		HostNames: hostNames,
	}, &resp)
	if err != nil {
		c.log.Warn("admission evaluation failed", "uid", req.UID, "err", err)
		return AdmissionResponse{}, newError(KindInternal, op, req.UID, err)
	}
	return admissionResponse(req.UID, resp), nil
}

func admissionResponse(uid string, resp backendrpc.AdmissionResponse) AdmissionResponse {
	st := &AdmissionStatus{Status: "Success"}
	if !resp.IsAllowed {
		reason := resp.Reason
		st = &AdmissionStatus{Status: "Failure", Message: &reason}
	}
	return AdmissionResponse{UID: uid, Allowed: resp.IsAllowed, Status: st}
}

