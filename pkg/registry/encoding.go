// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Content codings, in order of preference.
const (
	encodingZstd    = "zstd"
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
)

var preferredEncodings = []string{encodingZstd, encodingGzip, encodingDeflate}

// negotiateEncoding picks a response coding from an Accept-Encoding header.
// Higher q-values win; ties go to the earlier entry of preferredEncodings.
// It returns "" when the response should be sent uncompressed.
func negotiateEncoding(accept string) string {
	if accept == "" {
		return ""
	}
	q := make(map[string]float64)
	wildcard := -1.0
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		weight := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				weight = f
			}
		}
		if name == "*" {
			wildcard = weight
			continue
		}
		q[name] = weight
	}
	best, bestQ := "", 0.0
	for _, enc := range preferredEncodings {
		w, ok := q[enc]
		if !ok {
			if wildcard < 0 {
				continue
			}
			w = wildcard
		}
		if w > bestQ {
			best, bestQ = enc, w
		}
	}
	return best
}

// compressWriter compresses everything written to the wrapped
// ResponseWriter. Content-Length is dropped since the encoded size differs.
type compressWriter struct {
	http.ResponseWriter
	enc         io.WriteCloser
	encoding    string
	wroteHeader bool
}

func newCompressWriter(w http.ResponseWriter, encoding string) (*compressWriter, error) {
	cw := &compressWriter{ResponseWriter: w, encoding: encoding}
	var err error
	switch encoding {
	case encodingZstd:
		cw.enc, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case encodingGzip:
		cw.enc = gzip.NewWriter(w)
	case encodingDeflate:
		cw.enc, err = flate.NewWriter(w, flate.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err != nil {
		return nil, err
	}
	return cw, nil
}

func (cw *compressWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	h := cw.ResponseWriter.Header()
	h.Set("Content-Encoding", cw.encoding)
	h.Del("Content-Length")
	h.Add("Vary", "Accept-Encoding")
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(p []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.enc.Write(p)
}

// Close flushes the encoder. It does not close the underlying writer.
func (cw *compressWriter) Close() error {
	return cw.enc.Close()
}

// serveContent writes body with the given status, compressing it when the
// client accepts a supported coding. size is used for Content-Length on
// uncompressed responses; a negative size omits it.
func serveContent(w http.ResponseWriter, req *http.Request, status int, size int64, body io.Reader) error {
	if enc := negotiateEncoding(req.Header.Get("Accept-Encoding")); enc != "" {
		cw, err := newCompressWriter(w, enc)
		if err == nil {
			cw.WriteHeader(status)
			_, err = io.Copy(cw, body)
			return errors.Join(err, cw.Close())
		}
	}
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(status)
	_, err := io.Copy(w, body)
	return err
}

// decodeRequestBody replaces req.Body with a decoding reader when the
// request declares a Content-Encoding. The original body is closed along
// with the decoder.
func decodeRequestBody(req *http.Request) error {
	encoding := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Encoding")))
	var (
		dec io.ReadCloser
		err error
	)
	switch encoding {
	case "", "identity":
		return nil
	case encodingGzip:
		dec, err = gzip.NewReader(req.Body)
	case encodingDeflate:
		dec = flate.NewReader(req.Body)
	case encodingZstd:
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(req.Body); err == nil {
			dec = zr.IOReadCloser()
		}
	default:
		return fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s decoder: %w", encoding, err)
	}
	req.Body = &decodedBody{ReadCloser: dec, orig: req.Body}
	req.Header.Del("Content-Encoding")
	req.Header.Del("Content-Length")
	req.ContentLength = -1
	return nil
}

type decodedBody struct {
	io.ReadCloser
	orig io.Closer
}

func (b *decodedBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.orig.Close())
}
