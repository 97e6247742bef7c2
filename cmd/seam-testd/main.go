// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// seam-testd is a development seam server: it accepts connections,
// authenticates against a static user list, and runs exec requests
// through /bin/sh on the local machine.
//
// Usage:
//
//	seam-testd --addr 127.0.0.1:7022 --password alice:secret [--authorized-keys keys]
//
// It trusts its transport layer entirely and applies no privilege
// separation; never expose it beyond a development machine.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seam/credential"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var addr string
	var passwords []string
	var keysPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("seam-testd", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "127.0.0.1:7022", "listen address")
	flagSet.StringArrayVar(&passwords, "password", nil, "user:password pair (repeatable)")
	flagSet.StringVar(&keysPath, "authorized-keys", "", "file of authorized public keys, one per line")
	flagSet.BoolVar(&verbose, "verbose", false, "log protocol activity")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config := Config{
		Passwords: make(map[string]string),
		Logger:    logger,
	}
	for _, pair := range passwords {
		user, secret, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("malformed --password %q, want user:password", pair)
		}
		config.Passwords[user] = secret
	}
	if keysPath != "" {
		keys, err := credential.LoadAuthorizedKeys(keysPath)
		if err != nil {
			return err
		}
		config.AuthorizedKeys = keys
	}
	if len(config.Passwords) == 0 && len(config.AuthorizedKeys) == 0 {
		return fmt.Errorf("no credentials configured, give --password or --authorized-keys")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logger.Info("seam-testd listening", "addr", listener.Addr())

	server := NewServer(config)
	return server.Serve(listener)
}
