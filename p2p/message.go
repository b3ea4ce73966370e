// Copyright 2026 The basalt Authors
// This file is part of the basalt library.
//
// The basalt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The basalt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the basalt library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import (
	"encoding/binary"
	"fmt"

	"github.com/basaltchain/basalt/core/types"
)

// MsgCode identifies the variant of a wire message.
type MsgCode uint8

const (
	// ChallengeRequestMsg opens the handshake. It carries the sender's
	// listener port and the challenge height.
	ChallengeRequestMsg MsgCode = 0x00
	// ChallengeResponseMsg answers a challenge request with the block
	// header at the challenge height.
	ChallengeResponseMsg MsgCode = 0x01
	// PingMsg is the keepalive probe, carrying the sender's latest height.
	PingMsg MsgCode = 0x02
	// PongMsg answers a ping.
	PongMsg MsgCode = 0x03
)

// Msg is a message of the basalt wire protocol. Codes this package does
// not know are carried as RawMsg and ignored by the session dispatch.
type Msg interface {
	Code() MsgCode
	// Name returns a human-readable message name for logging.
	Name() string
}

// ChallengeRequest is the first message of the handshake.
type ChallengeRequest struct {
	ListenerPort uint16
	BlockHeight  uint32
}

func (*ChallengeRequest) Code() MsgCode { return ChallengeRequestMsg }
func (*ChallengeRequest) Name() string  { return "ChallengeRequest" }

// ChallengeResponse is the second message of the handshake.
type ChallengeResponse struct {
	Header *types.Header
}

func (*ChallengeResponse) Code() MsgCode { return ChallengeResponseMsg }
func (*ChallengeResponse) Name() string  { return "ChallengeResponse" }

// Ping is the keepalive probe.
type Ping struct {
	BlockHeight uint32
}

func (*Ping) Code() MsgCode { return PingMsg }
func (*Ping) Name() string  { return "Ping" }

// Pong answers a Ping.
type Pong struct{}

func (*Pong) Code() MsgCode { return PongMsg }
func (*Pong) Name() string  { return "Pong" }

// RawMsg holds a message with a code this package does not dispatch on.
type RawMsg struct {
	RawCode MsgCode
	Payload []byte
}

func (m *RawMsg) Code() MsgCode { return m.RawCode }
func (m *RawMsg) Name() string  { return fmt.Sprintf("Unknown(%#x)", uint8(m.RawCode)) }

// EncodeMsg serializes a message into a frame payload. The first byte is
// the message code, the remaining bytes are the big-endian encoding of
// the variant's fields.
func EncodeMsg(msg Msg) ([]byte, error) {
	switch m := msg.(type) {
	case *ChallengeRequest:
		buf := make([]byte, 7)
		buf[0] = byte(ChallengeRequestMsg)
		binary.BigEndian.PutUint16(buf[1:], m.ListenerPort)
		binary.BigEndian.PutUint32(buf[3:], m.BlockHeight)
		return buf, nil
	case *ChallengeResponse:
		if m.Header == nil {
			return nil, newPeerError(SerializationFailed, "challenge response without header")
		}
		enc := m.Header.EncodeBinary()
		buf := make([]byte, 1+len(enc))
		buf[0] = byte(ChallengeResponseMsg)
		copy(buf[1:], enc)
		return buf, nil
	case *Ping:
		buf := make([]byte, 5)
		buf[0] = byte(PingMsg)
		binary.BigEndian.PutUint32(buf[1:], m.BlockHeight)
		return buf, nil
	case *Pong:
		return []byte{byte(PongMsg)}, nil
	case *RawMsg:
		buf := make([]byte, 1+len(m.Payload))
		buf[0] = byte(m.RawCode)
		copy(buf[1:], m.Payload)
		return buf, nil
	default:
		return nil, newPeerError(SerializationFailed, "unencodable message type %T", msg)
	}
}

// DecodeMsg parses a frame payload into a message.
func DecodeMsg(buf []byte) (Msg, error) {
	if len(buf) == 0 {
		return nil, newPeerError(SerializationFailed, "empty message")
	}
	code, payload := MsgCode(buf[0]), buf[1:]
	switch code {
	case ChallengeRequestMsg:
		if len(payload) != 6 {
			return nil, newPeerError(SerializationFailed, "challenge request with %d payload bytes", len(payload))
		}
		return &ChallengeRequest{
			ListenerPort: binary.BigEndian.Uint16(payload),
			BlockHeight:  binary.BigEndian.Uint32(payload[2:]),
		}, nil
	case ChallengeResponseMsg:
		header, err := types.DecodeHeader(payload)
		if err != nil {
			return nil, newPeerError(SerializationFailed, "challenge response: %v", err)
		}
		return &ChallengeResponse{Header: header}, nil
	case PingMsg:
		if len(payload) != 4 {
			return nil, newPeerError(SerializationFailed, "ping with %d payload bytes", len(payload))
		}
		return &Ping{BlockHeight: binary.BigEndian.Uint32(payload)}, nil
	case PongMsg:
		if len(payload) != 0 {
			return nil, newPeerError(SerializationFailed, "pong with %d payload bytes", len(payload))
		}
		return &Pong{}, nil
	default:
		raw := &RawMsg{RawCode: code, Payload: make([]byte, len(payload))}
		copy(raw.Payload, payload)
		return raw, nil
	}
}
