// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build tools

// Package tools pins the development tools used on this module: addlicense
// stamps the header on new files and depaware checks the dependency set of
// cmd/trow.
package tools

import (
	_ "github.com/google/addlicense"
	_ "github.com/tailscale/depaware"
)
