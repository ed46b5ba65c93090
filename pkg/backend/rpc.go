// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"encoding/json"

	"github.com/yeetrun/trow/pkg/backendrpc"
)

func decodeParams[P any](raw json.RawMessage) (P, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &backendrpc.Error{Code: backendrpc.ErrInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	return p, nil
}

func unary[P, R any](fn func(context.Context, P) (R, error)) backendrpc.UnaryFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[P](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func stream[P any](fn func(context.Context, P, func(any) error) error) backendrpc.StreamFunc {
	return func(ctx context.Context, raw json.RawMessage, send func(any) error) error {
		p, err := decodeParams[P](raw)
		if err != nil {
			return err
		}
		return fn(ctx, p, send)
	}
}

// Handler returns the HTTP handler serving the backend's RPC methods.
func (b *Backend) Handler() *backendrpc.Handler {
	return &backendrpc.Handler{
		Logger: b.log,
		Unary: map[string]backendrpc.UnaryFunc{
			backendrpc.MethodRequestUpload:              unary(b.RequestUpload),
			backendrpc.MethodGetWriteLocationForBlob:    unary(b.GetWriteLocationForBlob),
			backendrpc.MethodCompleteUpload:             unary(b.CompleteUpload),
			backendrpc.MethodGetReadLocationForBlob:     unary(b.GetReadLocationForBlob),
			backendrpc.MethodDeleteBlob:                 unary(b.DeleteBlob),
			backendrpc.MethodGetWriteDetailsForManifest: unary(b.GetWriteDetailsForManifest),
			backendrpc.MethodGetReadLocationForManifest: unary(b.GetReadLocationForManifest),
			backendrpc.MethodVerifyManifest:             unary(b.VerifyManifest),
			backendrpc.MethodDeleteManifest:             unary(b.DeleteManifest),
			backendrpc.MethodIsHealthy:                  unary(b.IsHealthy),
			backendrpc.MethodIsReady:                    unary(b.IsReady),
			backendrpc.MethodGetMetrics:                 unary(b.GetMetrics),
			backendrpc.MethodValidateAdmission:          unary(b.ValidateAdmission),
		},
		Streams: map[string]backendrpc.StreamFunc{
			backendrpc.MethodGetManifestHistory: stream(b.GetManifestHistory),
			backendrpc.MethodGetCatalog:         stream(b.GetCatalog),
			backendrpc.MethodListTags:           stream(b.ListTags),
		},
	}
}
