// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// MessageType identifies a protocol message on the wire. It is the
// first byte of every frame.
type MessageType byte

// Message type constants. The numbering is part of the frame format
// and must never be reused for a different meaning.
const (
	TypeAuthRequest             MessageType = 0x01
	TypeAuthResult              MessageType = 0x02
	TypeChannelOpen             MessageType = 0x03
	TypeChannelOpenConfirmation MessageType = 0x04
	TypeChannelOpenFailure      MessageType = 0x05
	TypeChannelExec             MessageType = 0x06
	TypeChannelRequestReply     MessageType = 0x07
	TypeChannelData             MessageType = 0x08
	TypeChannelExtendedData     MessageType = 0x09
	TypeChannelEOF              MessageType = 0x0a
	TypeChannelClose            MessageType = 0x0b
	TypeChannelExitStatus       MessageType = 0x0c
	TypeChannelWindowAdjust     MessageType = 0x0d
	TypeGlobalRequest           MessageType = 0x0e
	TypeGlobalRequestReply      MessageType = 0x0f
	TypeDisconnect              MessageType = 0x10
)

// Message is the closed set of protocol messages. A transport's
// inbound side delivers Messages as events; its outbound side accepts
// them for transmission.
type Message interface {
	messageType() MessageType
}

// Event is a message arriving from the peer. It is the same closed
// set as Message; the alias exists so that signatures distinguish
// the inbound direction from the outbound one.
type Event = Message

// Authentication method names carried in AuthRequest.Method.
const (
	MethodPassword  = "password"
	MethodPublicKey = "publickey"
)

// Channel open failure reason codes (RFC 4254 §5.1 values).
const (
	OpenAdministrativelyProhibited uint32 = 1
	OpenConnectFailed              uint32 = 2
	OpenUnknownChannelType         uint32 = 3
	OpenResourceShortage           uint32 = 4
)

// Extended data stream codes. Stderr is the only stream defined.
const ExtendedDataStderr uint32 = 1

// Disconnect reason codes (RFC 4253 §11.1 values for the ones seam
// uses).
const (
	DisconnectProtocolError  uint32 = 2
	DisconnectByApplication  uint32 = 11
	DisconnectConnectionLost uint32 = 10
)

// AuthRequest submits a credential for the session. Password
// credentials carry Secret; public-key credentials carry Algorithm,
// PublicKey, and a Signature over the transport's session identifier
// bound to the username (see the credential package).
type AuthRequest struct {
	Username  string `cbor:"username"`
	Method    string `cbor:"method"`
	Secret    []byte `cbor:"secret,omitempty"`
	Algorithm string `cbor:"algorithm,omitempty"`
	PublicKey []byte `cbor:"public_key,omitempty"`
	Signature []byte `cbor:"signature,omitempty"`
}

// AuthResult reports the outcome of an AuthRequest. On failure,
// MethodsRemaining lists methods the peer is still willing to accept,
// and Reason is a human-readable explanation.
type AuthResult struct {
	Success          bool     `cbor:"success"`
	MethodsRemaining []string `cbor:"methods_remaining,omitempty"`
	Reason           string   `cbor:"reason,omitempty"`
}

// ChannelOpen requests a new channel. SenderID is the requester's
// local channel id; the peer addresses all subsequent events for this
// channel to it. InitialWindow is the byte budget the requester
// grants the peer for inbound data, and MaxPacketSize the largest
// single data payload it will accept.
type ChannelOpen struct {
	SenderID      uint32 `cbor:"sender_id"`
	InitialWindow uint32 `cbor:"initial_window"`
	MaxPacketSize uint32 `cbor:"max_packet_size"`
}

// ChannelOpenConfirmation accepts a ChannelOpen. RecipientID is the
// opener's id (from ChannelOpen.SenderID); SenderID is the acceptor's
// own id for the channel; InitialWindow and MaxPacketSize are the
// acceptor's grants in the opposite direction.
type ChannelOpenConfirmation struct {
	RecipientID   uint32 `cbor:"recipient_id"`
	SenderID      uint32 `cbor:"sender_id"`
	InitialWindow uint32 `cbor:"initial_window"`
	MaxPacketSize uint32 `cbor:"max_packet_size"`
}

// ChannelOpenFailure rejects a ChannelOpen.
type ChannelOpenFailure struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Code        uint32 `cbor:"code"`
	Reason      string `cbor:"reason,omitempty"`
}

// ChannelExec asks the peer to start the given command on an open
// channel. When WantReply is set the peer answers with a
// ChannelRequestReply.
type ChannelExec struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Command     string `cbor:"command"`
	WantReply   bool   `cbor:"want_reply"`
}

// ChannelRequestReply reports whether a channel request (exec)
// succeeded.
type ChannelRequestReply struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Success     bool   `cbor:"success"`
}

// ChannelData carries ordered payload bytes for one channel. The
// sender must stay within the receiver's granted window and maximum
// packet size.
type ChannelData struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Data        []byte `cbor:"data"`
}

// ChannelExtendedData carries payload bytes for a secondary stream,
// in practice stderr (Stream == ExtendedDataStderr). Extended data
// consumes the same window as ChannelData.
type ChannelExtendedData struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Stream      uint32 `cbor:"stream"`
	Data        []byte `cbor:"data"`
}

// ChannelEOF announces that the sender will transmit no more data on
// the channel. Each direction signals EOF independently.
type ChannelEOF struct {
	RecipientID uint32 `cbor:"recipient_id"`
}

// ChannelClose terminates a channel. Each side sends one; the channel
// is fully closed once both have.
type ChannelClose struct {
	RecipientID uint32 `cbor:"recipient_id"`
}

// ChannelExitStatus reports the exit status of the remote command.
// Sent at most once, before ChannelClose.
type ChannelExitStatus struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Status      uint32 `cbor:"status"`
}

// ChannelWindowAdjust grants the peer Additional more bytes of window
// on the channel.
type ChannelWindowAdjust struct {
	RecipientID uint32 `cbor:"recipient_id"`
	Additional  uint32 `cbor:"additional"`
}

// GlobalRequest is a session-wide request that is not tied to any
// channel, such as a keepalive probe.
type GlobalRequest struct {
	Name      string `cbor:"name"`
	WantReply bool   `cbor:"want_reply"`
	Payload   []byte `cbor:"payload,omitempty"`
}

// GlobalRequestReply answers a GlobalRequest that set WantReply.
type GlobalRequestReply struct {
	Success bool   `cbor:"success"`
	Payload []byte `cbor:"payload,omitempty"`
}

// Disconnect terminates the whole session. After sending or receiving
// a Disconnect no further messages flow.
type Disconnect struct {
	Code   uint32 `cbor:"code"`
	Reason string `cbor:"reason,omitempty"`
}

func (*AuthRequest) messageType() MessageType             { return TypeAuthRequest }
func (*AuthResult) messageType() MessageType              { return TypeAuthResult }
func (*ChannelOpen) messageType() MessageType             { return TypeChannelOpen }
func (*ChannelOpenConfirmation) messageType() MessageType { return TypeChannelOpenConfirmation }
func (*ChannelOpenFailure) messageType() MessageType      { return TypeChannelOpenFailure }
func (*ChannelExec) messageType() MessageType             { return TypeChannelExec }
func (*ChannelRequestReply) messageType() MessageType     { return TypeChannelRequestReply }
func (*ChannelData) messageType() MessageType             { return TypeChannelData }
func (*ChannelExtendedData) messageType() MessageType     { return TypeChannelExtendedData }
func (*ChannelEOF) messageType() MessageType              { return TypeChannelEOF }
func (*ChannelClose) messageType() MessageType            { return TypeChannelClose }
func (*ChannelExitStatus) messageType() MessageType       { return TypeChannelExitStatus }
func (*ChannelWindowAdjust) messageType() MessageType     { return TypeChannelWindowAdjust }
func (*GlobalRequest) messageType() MessageType           { return TypeGlobalRequest }
func (*GlobalRequestReply) messageType() MessageType      { return TypeGlobalRequestReply }
func (*Disconnect) messageType() MessageType              { return TypeDisconnect }
