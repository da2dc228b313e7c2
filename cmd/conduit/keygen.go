// Copyright 2026 The Conduit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/conduit-foundation/conduit/cmd/conduit/cli"
	"github.com/conduit-foundation/conduit/lib/handshake"
)

func keygenCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a relay identity keypair",
		Description: "Generates an age x25519 keypair for a relay. The private key is\n" +
			"written to the output file (mode 0600) and the public recipient,\n" +
			"which senders pass as --recipient, is printed to stderr.",
		Usage: "conduit keygen --output <path>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "", "private key output path ('-' for stdout)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Generate the relay identity and note the recipient",
				Command:     "conduit keygen --output /etc/conduit/identity.key",
			},
		},
		Run: func(args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}

			identity, err := handshake.GenerateIdentity()
			if err != nil {
				return err
			}
			defer identity.Close()

			key := make([]byte, 0, identity.PrivateKey.Len()+1)
			key = append(key, identity.PrivateKey.Bytes()...)
			key = append(key, '\n')

			if output == "-" {
				_, err = os.Stdout.Write(key)
			} else {
				err = os.WriteFile(output, key, 0o600)
			}
			if err != nil {
				return fmt.Errorf("writing private key: %w", err)
			}

			fmt.Fprintf(os.Stderr, "recipient: %s\n", identity.Recipient)
			return nil
		},
	}
}
