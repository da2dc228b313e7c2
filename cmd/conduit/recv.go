// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conduit-foundation/conduit/cmd/conduit/cli"
	"github.com/conduit-foundation/conduit/lib/pipe"
)

func recvCommand() *cli.Command {
	var (
		server     string
		startSeq   uint64
		configPath string
	)

	return &cli.Command{
		Name:    "recv",
		Summary: "Receive a pipe session to stdout",
		Description: "Attaches to the session named by the token and streams its bytes to\n" +
			"stdout, acknowledging chunks as they are consumed. The token may be\n" +
			"passed as an argument or piped on stdin.",
		Usage: "conduit recv [<token>] [flags] > data",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("recv", pflag.ContinueOnError)
			flagSet.StringVar(&server, "server", "", "relay base URL (default $CONDUIT_SERVER or http://127.0.0.1:8750)")
			flagSet.Uint64Var(&startSeq, "start-seq", 0, "resume from this chunk (lz4 mode sessions only)")
			flagSet.StringVar(&configPath, "config", "", "config file for the retry policy (default $CONDUIT_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			token, err := resolveToken(args)
			if err != nil {
				return err
			}
			cfg, err := clientConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger().With("command", "recv")
			transport := pipe.NewHTTPTransport(serverBaseURL(server), nil)

			reader, err := pipe.NewReader(ctx, pipe.ReaderOptions{
				Transport: transport,
				Token:     token,
				StartSeq:  startSeq,
				Retry:     cfg.Retry.Policy(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			if _, err := io.Copy(os.Stdout, reader); err != nil {
				return fmt.Errorf("streaming to stdout: %w", err)
			}
			return nil
		},
	}
}

// resolveToken takes the token from the first positional argument, or
// from stdin when no argument is given (so tokens never have to appear
// in shell history).
func resolveToken(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
		if err != nil {
			return "", fmt.Errorf("reading token from stdin: %w", err)
		}
		token := strings.TrimSpace(string(raw))
		if token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("token required (argument or stdin)")
}
