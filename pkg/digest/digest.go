// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package digest represents content hashes used to address blobs and
// manifests.
package digest

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// Algorithm names a hash function used to compute a Digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

// Available reports whether the algorithm is known and linked in.
func (a Algorithm) Available() bool {
	switch a {
	case SHA256, SHA384, SHA512:
		return godigest.Algorithm(a).Available()
	}
	return false
}

// Size returns the length of the hex encoding produced by the algorithm.
func (a Algorithm) Size() int {
	if !a.Available() {
		return 0
	}
	return godigest.Algorithm(a).Size() * 2
}

var (
	// ErrFormat is returned when a digest string is not of the form algo:hex.
	ErrFormat = errors.New("invalid digest format")
	// ErrAlgorithm is returned for unknown or unavailable algorithms.
	ErrAlgorithm = errors.New("unsupported digest algorithm")
	// ErrHex is returned when the hex part does not match the algorithm.
	ErrHex = errors.New("invalid digest hex")
)

// Digest is a content hash serialized as algorithm:hex.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

// Parse parses s as algorithm:hex. Unknown algorithms are rejected; there is
// no fallback algorithm.
func Parse(s string) (Digest, error) {
	algo, hex, ok := strings.Cut(s, ":")
	if !ok || algo == "" || hex == "" {
		return Digest{}, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	a := Algorithm(algo)
	if !a.Available() {
		return Digest{}, fmt.Errorf("%w: %q", ErrAlgorithm, algo)
	}
	if len(hex) != a.Size() {
		return Digest{}, fmt.Errorf("%w: %s wants %d characters, got %d", ErrHex, algo, a.Size(), len(hex))
	}
	if err := godigest.Digest(s).Validate(); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrHex, err)
	}
	return Digest{Algorithm: a, Hex: hex}, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// constants.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromBytes returns the sha256 digest of p.
func FromBytes(p []byte) Digest {
	return fromOCI(godigest.FromBytes(p))
}

// FromReader returns the digest of everything read from r using algorithm a.
func FromReader(a Algorithm, r io.Reader) (Digest, error) {
	if !a.Available() {
		return Digest{}, fmt.Errorf("%w: %q", ErrAlgorithm, a)
	}
	d, err := godigest.Algorithm(a).FromReader(r)
	if err != nil {
		return Digest{}, err
	}
	return fromOCI(d), nil
}

func fromOCI(d godigest.Digest) Digest {
	return Digest{Algorithm: Algorithm(d.Algorithm()), Hex: d.Encoded()}
}

// String returns the canonical algorithm:hex form.
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return string(d.Algorithm) + ":" + d.Hex
}

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && d.Hex == ""
}

// OCI converts d to the go-digest representation.
func (d Digest) OCI() godigest.Digest {
	return godigest.NewDigestFromEncoded(godigest.Algorithm(d.Algorithm), d.Hex)
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Digest{}
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
