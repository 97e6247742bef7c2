// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/seam/credential"
	"github.com/bureau-foundation/seam/transport"
	"github.com/bureau-foundation/seam/wire"
)

const defaultWindow = 2 * 1024 * 1024
const defaultMaxPacket = 32 * 1024

// Config holds the server's credentials and tunables.
type Config struct {
	// Passwords maps usernames to their shared secret.
	Passwords map[string]string
	// AuthorizedKeys lists public keys accepted for any username.
	AuthorizedKeys []ssh.PublicKey
	Logger         *slog.Logger
	// Window and MaxPacket are the per-channel grants offered to
	// clients; zero means the defaults.
	Window    uint32
	MaxPacket uint32
	// Shell runs exec commands; defaults to /bin/sh.
	Shell string
}

// Server accepts seam connections and serves exec requests.
type Server struct {
	config Config
}

func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Window == 0 {
		config.Window = defaultWindow
	}
	if config.MaxPacket == 0 {
		config.MaxPacket = defaultMaxPacket
	}
	if config.Shell == "" {
		config.Shell = "/bin/sh"
	}
	return &Server{config: config}
}

// Serve accepts connections until the listener fails.
func (s *Server) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	tr, err := transport.NewFrameTransport(conn)
	if err != nil {
		s.config.Logger.Warn("transport setup failed", "error", err)
		return
	}
	s.ServeTransport(tr)
}

// ServeTransport runs one connection to completion. Exported so tests
// can drive the server over an in-process transport.
func (s *Server) ServeTransport(tr transport.Transport) {
	c := &serverConn{
		server:   s,
		tr:       tr,
		logger:   s.config.Logger,
		channels: make(map[uint32]*serverChannel),
	}
	c.loop()
}

// serverConn is the per-connection state, owned by the loop goroutine.
// Channel output pumps run concurrently but touch only their own
// serverChannel and the transport, which serializes writes itself.
type serverConn struct {
	server *Server
	tr     transport.Transport
	logger *slog.Logger

	authenticated bool
	username      string
	nextID        uint32
	channels      map[uint32]*serverChannel
}

func (c *serverConn) loop() {
	defer c.cleanup()
	for event := range c.tr.Events() {
		switch ev := event.(type) {
		case *wire.AuthRequest:
			c.handleAuth(ev)
		case *wire.ChannelOpen:
			c.handleOpen(ev)
		case *wire.ChannelExec:
			c.handleExec(ev)
		case *wire.ChannelData:
			c.handleData(ev)
		case *wire.ChannelEOF:
			if ch := c.channels[ev.RecipientID]; ch != nil {
				ch.closeStdin()
			}
		case *wire.ChannelWindowAdjust:
			if ch := c.channels[ev.RecipientID]; ch != nil {
				ch.grow(ev.Additional)
			}
		case *wire.ChannelClose:
			if ch := c.channels[ev.RecipientID]; ch != nil {
				ch.shutdown()
				delete(c.channels, ev.RecipientID)
			}
		case *wire.GlobalRequest:
			if ev.WantReply {
				c.tr.Send(&wire.GlobalRequestReply{Success: false})
			}
		case *wire.Disconnect:
			c.logger.Debug("peer disconnected", "code", ev.Code, "reason", ev.Reason)
			return
		default:
			c.logger.Debug("ignoring event", "type", fmt.Sprintf("%T", event))
		}
	}
}

func (c *serverConn) cleanup() {
	for id, ch := range c.channels {
		ch.shutdown()
		delete(c.channels, id)
	}
	c.tr.Close()
}

func (c *serverConn) handleAuth(request *wire.AuthRequest) {
	ok, reason := c.checkCredential(request)
	if !ok {
		c.logger.Info("authentication rejected", "user", request.Username, "method", request.Method, "reason", reason)
		c.tr.Send(&wire.AuthResult{
			Success:          false,
			Reason:           reason,
			MethodsRemaining: c.methods(),
		})
		return
	}
	c.authenticated = true
	c.username = request.Username
	c.logger.Info("authenticated", "user", request.Username, "method", request.Method)
	c.tr.Send(&wire.AuthResult{Success: true})
}

func (c *serverConn) checkCredential(request *wire.AuthRequest) (bool, string) {
	switch request.Method {
	case wire.MethodPassword:
		secret, known := c.server.config.Passwords[request.Username]
		if !known || secret != string(request.Secret) {
			return false, "bad username or password"
		}
		return true, ""
	case wire.MethodPublicKey:
		key, err := credential.Verify(request, c.tr.SessionID())
		if err != nil {
			return false, "signature check failed"
		}
		marshaled := key.Marshal()
		for _, authorized := range c.server.config.AuthorizedKeys {
			if bytes.Equal(marshaled, authorized.Marshal()) {
				return true, ""
			}
		}
		return false, "key not authorized"
	default:
		return false, fmt.Sprintf("unsupported method %q", request.Method)
	}
}

func (c *serverConn) methods() []string {
	var methods []string
	if len(c.server.config.Passwords) > 0 {
		methods = append(methods, wire.MethodPassword)
	}
	if len(c.server.config.AuthorizedKeys) > 0 {
		methods = append(methods, wire.MethodPublicKey)
	}
	return methods
}

func (c *serverConn) handleOpen(ev *wire.ChannelOpen) {
	if !c.authenticated {
		c.tr.Send(&wire.ChannelOpenFailure{
			RecipientID: ev.SenderID,
			Code:        wire.OpenAdministrativelyProhibited,
			Reason:      "not authenticated",
		})
		return
	}
	ch := newServerChannel(c, c.nextID, ev.SenderID, ev.InitialWindow, ev.MaxPacketSize)
	c.channels[ch.localID] = ch
	c.nextID++
	c.tr.Send(&wire.ChannelOpenConfirmation{
		RecipientID:   ev.SenderID,
		SenderID:      ch.localID,
		InitialWindow: c.server.config.Window,
		MaxPacketSize: c.server.config.MaxPacket,
	})
}

func (c *serverConn) handleExec(ev *wire.ChannelExec) {
	ch := c.channels[ev.RecipientID]
	if ch == nil || ch.started {
		if ev.WantReply {
			c.tr.Send(&wire.ChannelRequestReply{RecipientID: ev.RecipientID, Success: false})
		}
		return
	}

	process := exec.Command(c.server.config.Shell, "-c", ev.Command)
	stdin, err := process.StdinPipe()
	var stdout, stderr io.ReadCloser
	if err == nil {
		stdout, err = process.StdoutPipe()
	}
	if err == nil {
		stderr, err = process.StderrPipe()
	}
	if err == nil {
		err = process.Start()
	}
	if err != nil {
		c.logger.Warn("exec failed", "command", ev.Command, "error", err)
		if ev.WantReply {
			c.tr.Send(&wire.ChannelRequestReply{RecipientID: ch.remoteID, Success: false})
		}
		return
	}

	c.logger.Debug("exec started", "user", c.username, "command", ev.Command)
	ch.started = true
	ch.process = process
	ch.stdin = stdin
	if ev.WantReply {
		c.tr.Send(&wire.ChannelRequestReply{RecipientID: ch.remoteID, Success: true})
	}
	go ch.runCommand(stdout, stderr)
}

func (c *serverConn) handleData(ev *wire.ChannelData) {
	ch := c.channels[ev.RecipientID]
	if ch == nil {
		return
	}
	// Write failures mean the process is gone; the bytes are dropped
	// but the window is still replenished so the client never stalls.
	ch.writeStdin(ev.Data)
	c.tr.Send(&wire.ChannelWindowAdjust{RecipientID: ch.remoteID, Additional: uint32(len(ev.Data))})
}

// serverChannel is one exec channel. The window the client granted us
// is shared between the stdout and stderr pumps under mu.
type serverChannel struct {
	conn      *serverConn
	localID   uint32
	remoteID  uint32
	maxPacket uint32

	started bool
	process *exec.Cmd
	stdin   io.WriteCloser

	mu        sync.Mutex
	cond      *sync.Cond
	window    uint32
	closed    bool
	closeSent bool
	stdinDone bool
}

func newServerChannel(c *serverConn, localID, remoteID, window, maxPacket uint32) *serverChannel {
	if maxPacket == 0 {
		maxPacket = defaultMaxPacket
	}
	ch := &serverChannel{
		conn:      c,
		localID:   localID,
		remoteID:  remoteID,
		maxPacket: maxPacket,
		window:    window,
	}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// runCommand pumps the process's output to the client, then reports
// how it ended and starts the close handshake.
func (ch *serverChannel) runCommand(stdout, stderr io.ReadCloser) {
	var pumps sync.WaitGroup
	pumps.Add(2)
	go ch.pump(stdout, false, &pumps)
	go ch.pump(stderr, true, &pumps)
	pumps.Wait()

	status := 0
	if err := ch.process.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		} else {
			ch.conn.logger.Warn("waiting for command", "error", err)
			status = 1
		}
	}

	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return
	}
	ch.conn.tr.Send(&wire.ChannelEOF{RecipientID: ch.remoteID})
	ch.conn.tr.Send(&wire.ChannelExitStatus{RecipientID: ch.remoteID, Status: uint32(status)})
	ch.sendCloseOnce()
}

func (ch *serverChannel) pump(r io.ReadCloser, toStderr bool, pumps *sync.WaitGroup) {
	defer pumps.Done()
	buffer := make([]byte, ch.maxPacket)
	for {
		n, err := r.Read(buffer)
		if n > 0 && !ch.writeData(buffer[:n], toStderr) {
			r.Close()
			return
		}
		if err != nil {
			return
		}
	}
}

// writeData sends payload bytes in window- and packet-sized chunks.
// Returns false once the channel is closed.
func (ch *serverChannel) writeData(data []byte, toStderr bool) bool {
	for len(data) > 0 {
		chunk := ch.reserve(uint32(len(data)))
		if chunk == 0 {
			return false
		}
		var message wire.Message
		if toStderr {
			message = &wire.ChannelExtendedData{
				RecipientID: ch.remoteID,
				Stream:      wire.ExtendedDataStderr,
				Data:        data[:chunk],
			}
		} else {
			message = &wire.ChannelData{RecipientID: ch.remoteID, Data: data[:chunk]}
		}
		if err := ch.conn.tr.Send(message); err != nil {
			return false
		}
		data = data[chunk:]
	}
	return true
}

// reserve blocks until window is available and claims up to want
// bytes. Returns zero when the channel has closed.
func (ch *serverChannel) reserve(want uint32) uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for ch.window == 0 && !ch.closed {
		ch.cond.Wait()
	}
	if ch.closed {
		return 0
	}
	chunk := want
	if chunk > ch.window {
		chunk = ch.window
	}
	if chunk > ch.maxPacket {
		chunk = ch.maxPacket
	}
	ch.window -= chunk
	return chunk
}

func (ch *serverChannel) grow(additional uint32) {
	ch.mu.Lock()
	ch.window += additional
	ch.cond.Broadcast()
	ch.mu.Unlock()
}

func (ch *serverChannel) writeStdin(data []byte) {
	ch.mu.Lock()
	stdin := ch.stdin
	done := ch.stdinDone
	ch.mu.Unlock()
	if stdin == nil || done {
		return
	}
	stdin.Write(data)
}

func (ch *serverChannel) closeStdin() {
	ch.mu.Lock()
	stdin := ch.stdin
	done := ch.stdinDone
	ch.stdinDone = true
	ch.mu.Unlock()
	if stdin != nil && !done {
		stdin.Close()
	}
}

func (ch *serverChannel) sendCloseOnce() {
	ch.mu.Lock()
	sent := ch.closeSent
	ch.closeSent = true
	ch.mu.Unlock()
	if !sent {
		ch.conn.tr.Send(&wire.ChannelClose{RecipientID: ch.remoteID})
	}
}

// shutdown forces the channel down: stops the pumps, kills a running
// process, and answers the close handshake.
func (ch *serverChannel) shutdown() {
	ch.mu.Lock()
	ch.closed = true
	ch.cond.Broadcast()
	ch.mu.Unlock()

	ch.closeStdin()
	if ch.process != nil && ch.process.Process != nil {
		ch.process.Process.Kill()
	}
	ch.sendCloseOnce()
}
