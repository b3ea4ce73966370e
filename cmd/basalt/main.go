// Copyright 2026 The basalt Authors
// This file is part of basalt.
//
// basalt is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// basalt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with basalt. If not, see <http://www.gnu.org/licenses/>.

// basalt is the command-line entry point of a basalt network node.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basaltchain/basalt/p2p"
)

var (
	listenAddrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "TCP listener address of the node (port 0 picks any free port)",
		Value: "127.0.0.1:4130",
	}
	maxPeersFlag = &cli.IntFlag{
		Name:  "maxpeers",
		Usage: "Maximum number of peer connections",
		Value: 16,
	}
	connectFlag = &cli.StringSliceFlag{
		Name:  "connect",
		Usage: "Address of a peer to dial on startup (repeatable)",
	}
	keepaliveFlag = &cli.DurationFlag{
		Name:  "keepalive",
		Usage: "Delay between a received pong and the next ping",
		Value: 20 * time.Second,
	}
	inactivityFlag = &cli.DurationFlag{
		Name:  "inactivity",
		Usage: "Inactivity window after which a silent peer is dropped",
		Value: 280 * time.Second,
	}
	dialTimeoutFlag = &cli.DurationFlag{
		Name:  "dialtimeout",
		Usage: "Timeout for outbound connection attempts",
		Value: 5 * time.Second,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Address to serve prometheus metrics on (disabled if empty)",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: debug, info, warn, error",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:   "basalt",
		Usage:  "basalt network node",
		Action: run,
		Flags: []cli.Flag{
			listenAddrFlag,
			maxPeersFlag,
			connectFlag,
			keepaliveFlag,
			inactivityFlag,
			dialTimeoutFlag,
			metricsAddrFlag,
			verbosityFlag,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log, err := newLogger(ctx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := p2p.NewServer(p2p.Config{
		ListenAddr:        ctx.String(listenAddrFlag.Name),
		MaxPeers:          ctx.Int(maxPeersFlag.Name),
		DialTimeout:       ctx.Duration(dialTimeoutFlag.Name),
		KeepaliveInterval: ctx.Duration(keepaliveFlag.Name),
		InactivityTimeout: ctx.Duration(inactivityFlag.Name),
		Logger:            log,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		go serveMetrics(log, addr)
	}
	go reportStatus(log, srv)

	// Dial failures are not fatal; the node stays up for inbound peers.
	for _, addr := range ctx.StringSlice(connectFlag.Name) {
		if err := srv.Connect(addr); err != nil {
			log.Warn("failed to connect to bootstrap peer", zap.String("addr", addr), zap.Error(err))
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return srv.Stop()
}

func newLogger(verbosity string) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(verbosity); err != nil {
		return nil, fmt.Errorf("invalid verbosity %q: %w", verbosity, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// reportStatus periodically logs the connected peer set.
func reportStatus(log *zap.Logger, srv *p2p.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		log.Info("peer status", zap.Int("count", srv.PeerCount()), zap.Strings("peers", srv.Peers()))
	}
}

func serveMetrics(log *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", zap.Error(err))
	}
}
