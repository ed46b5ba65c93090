// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trow serves the registry API in front of a trow backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/yeetrun/trow/pkg/backend"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/config"
	"github.com/yeetrun/trow/pkg/locator"
	"github.com/yeetrun/trow/pkg/regclient"
	"github.com/yeetrun/trow/pkg/registry"
	"github.com/yeetrun/trow/pkg/users"
	"golang.org/x/time/rate"
	"tailscale.com/tsnet"
	"tailscale.com/util/must"
)

var (
	configPath  = flag.String("config", "", "path to trow.toml")
	listenAddr  = flag.String("listen", "", "address to serve the registry on (overrides config)")
	backendAddr = flag.String("backend", "", "backend address (overrides config)")
	standalone  = flag.Bool("standalone", false, "run the reference backend in this process")
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *backendAddr != "" {
		cfg.Backend.Address = *backendAddr
	}
	logger := cfg.Logger()
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *standalone {
		startBackend(cfg, logger)
	}

	rpc := backendrpc.NewClient(cfg.Backend.Address,
		backendrpc.WithPool(cfg.Backend.PoolSize, cfg.Backend.IdleConns),
		backendrpc.WithLogger(logger.WithPrefix("rpc")))
	defer rpc.Close()
	client := regclient.New(rpc, locator.NewMux(locator.NewMemory()), regclient.WithLogger(logger))

	opts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithHostNames(cfg.HostNames...),
	}
	if cfg.Auth.Enabled {
		store := must.Get(users.Open(cfg.Auth.DBFile))
		defer store.Close()
		if cfg.Auth.UsersFile != "" {
			n, err := store.LoadFile(ctx, cfg.Auth.UsersFile)
			if err != nil {
				log.Fatal("failed to import users", "file", cfg.Auth.UsersFile, "err", err)
			}
			logger.Info("imported users", "file", cfg.Auth.UsersFile, "created", n)
		}
		opts = append(opts, registry.WithAuth(store, cfg.Auth.Realm))
	}
	if rps := cfg.RateLimit.RequestsPerSecond; rps > 0 {
		opts = append(opts, registry.WithRateLimit(rate.Limit(rps), cfg.RateLimit.Burst))
	}
	handler := registry.New(client, opts...)

	servers := []*http.Server{serve(logger, must.Get(net.Listen("tcp", cfg.Listen)), handler)}
	logger.Info("serving registry", "addr", cfg.Listen, "backend", rpc.Addr(), "host_names", cfg.HostNames)

	if ts := initTSNet(ctx, cfg, logger); ts != nil {
		defer ts.Close()
		ln := must.Get(ts.ListenTLS("tcp", ":443"))
		servers = append(servers, serve(logger, ln, handler))
		logger.Info("serving registry on tailnet", "hostname", cfg.Tsnet.Hostname)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}
}

func serve(logger *log.Logger, ln net.Listener, h http.Handler) *http.Server {
	s := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("registry server error", "addr", ln.Addr(), "err", err)
		}
	}()
	return s
}

// startBackend runs the reference backend on the configured backend
// address, storing data under DataDir.
func startBackend(cfg *config.Config, logger *log.Logger) {
	root := must.Get(filepath.Abs(cfg.DataDir))
	must.Do(os.MkdirAll(root, 0o700))
	b := backend.New(locator.Files{}, root, backend.WithLogger(logger.WithPrefix("backend")))
	h := b.Handler()
	h.Logger = logger.WithPrefix("backend")
	ln := must.Get(net.Listen("tcp", cfg.Backend.Address))
	cfg.Backend.Address = ln.Addr().String()
	go func() {
		if err := http.Serve(ln, h); err != nil {
			logger.Fatal("backend server error", "err", err)
		}
	}()
	logger.Info("started in-process backend", "addr", cfg.Backend.Address, "root", root)
}

// initTSNet brings up a tailnet node when configured.
func initTSNet(ctx context.Context, cfg *config.Config, logger *log.Logger) *tsnet.Server {
	if cfg.Tsnet.Hostname == "" {
		return nil
	}
	ts := &tsnet.Server{
		Dir:      cfg.Tsnet.Dir,
		Hostname: cfg.Tsnet.Hostname,
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "tsnet")
		},
	}
	st, err := ts.Up(ctx)
	if err != nil {
		logger.Fatal("failed to start tsnet", "err", err)
	}
	logger.Info("tsnet up", "ips", st.TailscaleIPs)
	return ts
}
