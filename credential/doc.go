// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements the credential types accepted by
// mux.Session.Authenticate: passwords and SSH private keys.
//
// Public-key credentials sign a payload derived from the transport's
// session identifier, so a signature observed on one connection is
// useless on any other. Servers check such signatures with [Verify].
//
// Key material is handled through golang.org/x/crypto/ssh: any key
// format ssh.ParsePrivateKey accepts works, including OpenSSH ed25519
// and RSA keys. [LoadKeyFile] reads a key from disk.
package credential
