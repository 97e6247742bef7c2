// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/seam/lib/codec"
)

// frameHeaderLength is the fixed size of a frame header: 1 byte
// message type + 4 bytes body length.
const frameHeaderLength = 5

// maxBodyLength is the maximum allowed frame body size. Data payloads
// are bounded by the negotiated maximum packet size, which is far
// below this; the limit exists so a corrupt or hostile length field
// cannot make the reader allocate gigabytes.
const maxBodyLength = 256 * 1024

// newMessage maps a frame's type byte to an empty message of the
// right concrete type for the decoder to fill.
func newMessage(t MessageType) (Message, bool) {
	switch t {
	case TypeAuthRequest:
		return new(AuthRequest), true
	case TypeAuthResult:
		return new(AuthResult), true
	case TypeChannelOpen:
		return new(ChannelOpen), true
	case TypeChannelOpenConfirmation:
		return new(ChannelOpenConfirmation), true
	case TypeChannelOpenFailure:
		return new(ChannelOpenFailure), true
	case TypeChannelExec:
		return new(ChannelExec), true
	case TypeChannelRequestReply:
		return new(ChannelRequestReply), true
	case TypeChannelData:
		return new(ChannelData), true
	case TypeChannelExtendedData:
		return new(ChannelExtendedData), true
	case TypeChannelEOF:
		return new(ChannelEOF), true
	case TypeChannelClose:
		return new(ChannelClose), true
	case TypeChannelExitStatus:
		return new(ChannelExitStatus), true
	case TypeChannelWindowAdjust:
		return new(ChannelWindowAdjust), true
	case TypeGlobalRequest:
		return new(GlobalRequest), true
	case TypeGlobalRequestReply:
		return new(GlobalRequestReply), true
	case TypeDisconnect:
		return new(Disconnect), true
	}
	return nil, false
}

// WriteFrame writes one framed message to w: [1 byte type] [4 bytes
// body length, big-endian uint32] [CBOR body].
func WriteFrame(w io.Writer, message Message) error {
	body, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("wire: encoding %T body: %w", message, err)
	}
	if len(body) > maxBodyLength {
		return fmt.Errorf("wire: %T body is %d bytes, exceeds maximum %d", message, len(body), maxBodyLength)
	}
	var header [frameHeaderLength]byte
	header[0] = byte(message.messageType())
	binary.BigEndian.PutUint32(header[1:5], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one framed message from r. It returns io.EOF
// unwrapped when the stream ends cleanly at a frame boundary, so
// callers can distinguish an orderly shutdown from a truncated frame.
func ReadFrame(r io.Reader) (Message, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: reading frame header: %w", err)
	}
	messageType := MessageType(header[0])
	bodyLength := binary.BigEndian.Uint32(header[1:5])
	if bodyLength > maxBodyLength {
		return nil, fmt.Errorf("wire: frame body length %d exceeds maximum %d", bodyLength, maxBodyLength)
	}
	message, ok := newMessage(messageType)
	if !ok {
		return nil, fmt.Errorf("wire: unknown message type 0x%02x", byte(messageType))
	}
	body := make([]byte, bodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading frame body: %w", err)
	}
	if err := codec.Unmarshal(body, message); err != nil {
		return nil, fmt.Errorf("wire: decoding %T body: %w", message, err)
	}
	return message, nil
}
