// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/seam/wire"
)

// Password authenticates with a username and a shared secret.
type Password struct {
	Username string
	Password string
}

// AuthRequest implements mux.Credential.
func (c *Password) AuthRequest(sessionID []byte) (*wire.AuthRequest, error) {
	if c.Username == "" {
		return nil, fmt.Errorf("credential: password credential has no username")
	}
	return &wire.AuthRequest{
		Username: c.Username,
		Method:   wire.MethodPassword,
		Secret:   []byte(c.Password),
	}, nil
}

// PublicKey authenticates by signing the session identifier with a
// private key. The server checks the signature against its authorized
// keys; the secret itself never crosses the wire.
type PublicKey struct {
	Username string
	Signer   ssh.Signer
}

// AuthRequest implements mux.Credential. Signing happens here, on the
// caller's goroutine.
func (c *PublicKey) AuthRequest(sessionID []byte) (*wire.AuthRequest, error) {
	if c.Username == "" {
		return nil, fmt.Errorf("credential: public-key credential has no username")
	}
	if c.Signer == nil {
		return nil, fmt.Errorf("credential: public-key credential has no signer")
	}
	if len(sessionID) == 0 {
		return nil, fmt.Errorf("credential: transport reported an empty session identifier")
	}
	signature, err := c.Signer.Sign(nil, signaturePayload(sessionID, c.Username))
	if err != nil {
		return nil, fmt.Errorf("credential: signing session identifier: %w", err)
	}
	key := c.Signer.PublicKey()
	return &wire.AuthRequest{
		Username:  c.Username,
		Method:    wire.MethodPublicKey,
		Algorithm: signature.Format,
		PublicKey: key.Marshal(),
		Signature: signature.Blob,
	}, nil
}

// LoadKeyFile reads and parses a private key for use in a PublicKey
// credential. Any format ssh.ParsePrivateKey understands is accepted.
func LoadKeyFile(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential: reading key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("credential: parsing key file %s: %w", path, err)
	}
	return signer, nil
}

// LoadAuthorizedKeys reads an authorized_keys style file: one public
// key per line, blank lines and # comments skipped.
func LoadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential: reading authorized keys: %w", err)
	}
	var keys []ssh.PublicKey
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("credential: parsing authorized keys %s: %w", path, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Verify checks a public-key AuthRequest against the session
// identifier of the connection it arrived on, returning the parsed
// public key on success. The caller still decides whether that key is
// authorized for the requested username.
func Verify(request *wire.AuthRequest, sessionID []byte) (ssh.PublicKey, error) {
	if request.Method != wire.MethodPublicKey {
		return nil, fmt.Errorf("credential: request method is %q, not %q", request.Method, wire.MethodPublicKey)
	}
	key, err := ssh.ParsePublicKey(request.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("credential: parsing public key: %w", err)
	}
	signature := &ssh.Signature{Format: request.Algorithm, Blob: request.Signature}
	if err := key.Verify(signaturePayload(sessionID, request.Username), signature); err != nil {
		return nil, fmt.Errorf("credential: signature check failed: %w", err)
	}
	return key, nil
}

// signaturePayload is what a public-key credential signs: a fixed
// context string, then the length-prefixed session identifier and
// username. Length prefixes keep the two fields unambiguous.
func signaturePayload(sessionID []byte, username string) []byte {
	var buffer bytes.Buffer
	buffer.WriteString("seam-publickey-auth-v1")
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(sessionID)))
	buffer.Write(length[:])
	buffer.Write(sessionID)
	binary.BigEndian.PutUint32(length[:], uint32(len(username)))
	buffer.Write(length[:])
	buffer.WriteString(username)
	return buffer.Bytes()
}
