// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conduit-foundation/conduit/cmd/conduit/cli"
	"github.com/conduit-foundation/conduit/lib/compress"
	"github.com/conduit-foundation/conduit/lib/pipe"
)

func sendCommand() *cli.Command {
	var (
		server     string
		recipient  string
		modeName   string
		configPath string
	)

	return &cli.Command{
		Name:    "send",
		Summary: "Stream stdin through a new pipe session",
		Description: "Opens a session on the relay, prints the receive token, and streams\n" +
			"stdin through it. Give the token to the receiving side out of band;\n" +
			"it carries the session secret, so treat it like a password.",
		Usage: "conduit send --recipient <age1...> [flags] < data",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flagSet.StringVar(&server, "server", "", "relay base URL (default $CONDUIT_SERVER or http://127.0.0.1:8750)")
			flagSet.StringVar(&recipient, "recipient", "", "relay's age public key (required)")
			flagSet.StringVar(&modeName, "mode", "zstd-stream", "compression mode: zstd-stream or lz4")
			flagSet.StringVar(&configPath, "config", "", "config file for the retry policy (default $CONDUIT_CONFIG)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Stream with per-chunk LZ4 so the receiver can resume mid-stream",
				Command:     "conduit send --recipient age1... --mode lz4 < data.img",
			},
		},
		Run: func(args []string) error {
			if recipient == "" {
				return fmt.Errorf("--recipient is required (the relay logs it at startup)")
			}
			mode, err := compress.ParseMode(modeName)
			if err != nil {
				return err
			}
			cfg, err := clientConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger().With("command", "send")
			transport := pipe.NewHTTPTransport(serverBaseURL(server), nil)

			writer, err := pipe.NewWriter(ctx, pipe.WriterOptions{
				Transport: transport,
				Recipient: recipient,
				Mode:      mode,
				Retry:     cfg.Retry.Policy(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			// The token goes out before the first byte so the receiver
			// can start draining while the send is still in progress.
			fmt.Println(writer.Token())

			if _, err := io.Copy(writer, os.Stdin); err != nil {
				return fmt.Errorf("streaming stdin: %w", err)
			}
			if err := writer.Close(); err != nil {
				return fmt.Errorf("sealing session: %w", err)
			}
			return nil
		},
	}
}
