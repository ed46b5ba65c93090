// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regclient implements registry operations (blob uploads, manifests,
// listings, admission checks and probes) on top of a remote storage backend.
//
// Every operation performs its backend calls through a shared
// backendrpc.Client and classifies failures into a Kind. Content is moved
// through the locators the backend hands out, opened with a locator.Opener.
package regclient

import (
	"github.com/charmbracelet/log"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/locator"
)

type Client struct {
	rpc    *backendrpc.Client
	opener locator.Opener
	log    *log.Logger
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client that talks to the backend through rpc and opens
// backend locators with opener.
func New(rpc *backendrpc.Client, opener locator.Opener, opts ...Option) *Client {
	c := &Client{
		rpc:    rpc,
		opener: opener,
		log:    log.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
