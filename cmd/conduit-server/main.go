// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

// conduit-server is the pipe relay daemon. It buffers sealed chunks
// between writers and readers without ever holding key material: the
// session secret in an open request is unsealed only to validate the
// handshake and immediately discarded.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-foundation/conduit/lib/chunkstore"
	"github.com/conduit-foundation/conduit/lib/config"
	"github.com/conduit-foundation/conduit/lib/handshake"
	"github.com/conduit-foundation/conduit/lib/service"
	"github.com/conduit-foundation/conduit/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		listen      string
		identity    string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "configuration file path (default: CONDUIT_CONFIG or built-in defaults)")
	flag.StringVar(&listen, "listen", "", "listen address, overrides the configuration file")
	flag.StringVar(&identity, "identity-file", "", "server identity file, overrides the configuration file ('-' reads stdin)")
	flag.Parse()

	if showVersion {
		fmt.Printf("conduit-server %s\n", version.Info())
		return nil
	}

	logger := service.NewLogger()

	var cfg *config.Config
	var err error
	switch {
	case configPath != "":
		cfg, err = config.LoadFile(configPath)
	case os.Getenv("CONDUIT_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}
	if identity != "" {
		cfg.IdentityFile = identity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.IdentityFile == "" {
		return fmt.Errorf("no identity file configured (set identity_file or pass --identity-file)")
	}

	// Load the private key into guarded memory before any goroutines
	// start. The recipient string is what writers seal secrets to, so
	// log it for operators to distribute.
	serverIdentity, err := handshake.LoadIdentity(cfg.IdentityFile)
	if err != nil {
		return err
	}
	defer serverIdentity.Close()
	logger.Info("server identity loaded", "recipient", serverIdentity.Recipient)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := chunkstore.New(chunkstore.Options{
		ChunkSize:  cfg.Pipe.ChunkSize,
		Capacity:   cfg.Pipe.BufferCapacity,
		SessionTTL: cfg.Pipe.SessionTTL.Std(),
		AppendWait: cfg.Pipe.AppendWait.Std(),
		Logger:     logger,
	})

	// Expiry sweep runs for the lifetime of the process.
	go store.Run(ctx)

	pipeService := chunkstore.NewService(store, serverIdentity, logger)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: newPipeHandler(pipeService, logger),
		Logger:  logger,
	})

	logger.Info("conduit-server running",
		"listen", cfg.ListenAddress,
		"chunk_size", cfg.Pipe.ChunkSize,
		"buffer_capacity", cfg.Pipe.BufferCapacity,
		"session_ttl", cfg.Pipe.SessionTTL.Std(),
	)

	return server.Serve(ctx)
}
