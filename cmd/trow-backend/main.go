// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trow-backend runs the reference registry backend. It stores
// content under the configured data directory and serves the backend RPC
// protocol to trow front ends.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/yeetrun/trow/pkg/backend"
	"github.com/yeetrun/trow/pkg/config"
	"github.com/yeetrun/trow/pkg/locator"
	"tailscale.com/util/must"
)

var (
	configPath = flag.String("config", "", "path to trow.toml")
	listenAddr = flag.String("listen", "", "address to serve RPC on (overrides backend.address)")
	dataDir    = flag.String("data-dir", "", "data directory (overrides data_dir)")
	memory     = flag.Bool("memory", false, "keep content in memory; for tests and demos")
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if *listenAddr != "" {
		cfg.Backend.Address = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	logger := cfg.Logger().WithPrefix("trow-backend")
	log.SetDefault(logger)

	root := "mem://trow"
	if !*memory {
		root = must.Get(filepath.Abs(cfg.DataDir))
		must.Do(os.MkdirAll(root, 0o700))
	}
	b := backend.New(locator.NewMux(locator.NewMemory()), root, backend.WithLogger(logger))
	h := b.Handler()
	h.Logger = logger

	ln := must.Get(net.Listen("tcp", cfg.Backend.Address))
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 30 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", "err", err)
		}
	}()
	logger.Info("serving backend", "addr", ln.Addr(), "root", root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
}
