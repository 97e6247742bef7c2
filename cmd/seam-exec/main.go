// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// seam-exec runs one command on a seam server and wires the local
// stdio to it: stdin feeds the remote command, its stdout and stderr
// come back on the matching local streams, and the remote exit status
// becomes the local one.
//
// Usage:
//
//	seam-exec --addr host:port --user alice [--key ~/.ssh/id_ed25519] -- command [args...]
//
// Without --key the password is read from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/seam/credential"
	"github.com/bureau-foundation/seam/mux"
	"github.com/bureau-foundation/seam/transport"
)

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// remoteExit carries the remote command's exit status out of run so
// that main can propagate it without printing an error.
type remoteExit struct {
	status int
}

func (e remoteExit) Error() string { return fmt.Sprintf("remote command exited with status %d", e.status) }

func (e remoteExit) ExitCode() int { return e.status }

func run() error {
	var addr string
	var user string
	var keyPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("seam-exec", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "", "server address (host:port)")
	flagSet.StringVar(&user, "user", "", "username to authenticate as")
	flagSet.StringVar(&keyPath, "key", "", "private key file (password prompt when omitted)")
	flagSet.BoolVar(&verbose, "verbose", false, "log protocol activity to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if addr == "" || user == "" {
		return fmt.Errorf("--addr and --user are required")
	}
	command := strings.Join(flagSet.Args(), " ")
	if command == "" {
		return fmt.Errorf("no command given")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cred, err := buildCredential(user, keyPath)
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	tr, err := transport.NewFrameTransport(conn)
	if err != nil {
		conn.Close()
		return err
	}

	ctx := context.Background()
	session := mux.NewSession(tr, mux.WithLogger(logger))
	defer session.Close()

	if err := session.Authenticate(ctx, cred); err != nil {
		return err
	}
	channel, err := session.OpenExec(ctx, command)
	if err != nil {
		return err
	}

	// Stdin pumps in its own goroutine: it may never see EOF (a
	// terminal, for instance), and the command is allowed to finish
	// without reading it.
	go func() {
		io.Copy(channel, os.Stdin)
		channel.CloseWrite()
	}()

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		io.Copy(os.Stdout, channel)
	}()
	go func() {
		defer streams.Done()
		io.Copy(os.Stderr, channel.Stderr())
	}()
	streams.Wait()

	status, err := channel.ExitStatus(ctx)
	if err != nil {
		return err
	}
	if status != 0 {
		return remoteExit{status: status}
	}
	return nil
}

// buildCredential picks public-key auth when a key file was given and
// falls back to a password prompt otherwise.
func buildCredential(user, keyPath string) (mux.Credential, error) {
	if keyPath != "" {
		signer, err := credential.LoadKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
		return &credential.PublicKey{Username: user, Signer: signer}, nil
	}
	fmt.Fprintf(os.Stderr, "%s's password: ", user)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return &credential.Password{Username: user, Password: string(secret)}, nil
}
