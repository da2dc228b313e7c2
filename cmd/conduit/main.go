// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/conduit-foundation/conduit/cmd/conduit/cli"
	"github.com/conduit-foundation/conduit/lib/config"
	"github.com/conduit-foundation/conduit/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cli.Command{
		Name:    "conduit",
		Summary: "Stream bytes between machines through an encrypted pipe",
		Description: "Conduit streams bytes from a producer to a consumer through a relay\n" +
			"server. Chunks are compressed and sealed end to end; the server buffers\n" +
			"ciphertext it cannot read.",
		Subcommands: []*cli.Command{
			sendCommand(),
			recvCommand(),
			keygenCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Println("conduit", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Stream a backup to the relay, printing the receive token",
				Command:     "conduit send --recipient age1... < backup.tar.zst",
			},
			{
				Description: "Receive it on another machine",
				Command:     "conduit recv cndt1_... > backup.tar.zst",
			},
		},
	}
	return root.Execute(os.Args[1:])
}

// serverBaseURL resolves the relay URL: flag value if set, else the
// CONDUIT_SERVER environment variable, else localhost.
func serverBaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONDUIT_SERVER"); env != "" {
		return env
	}
	return "http://127.0.0.1:8750"
}

// clientConfig resolves configuration for send and recv: the --config
// flag if given, else CONDUIT_CONFIG, else built-in defaults. The
// retry section is the part the clients consume.
func clientConfig(configPath string) (*config.Config, error) {
	switch {
	case configPath != "":
		return config.LoadFile(configPath)
	case os.Getenv("CONDUIT_CONFIG") != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}
