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
	"errors"
	"fmt"
)

// ErrorCode classifies the failures of the connection layer.
type ErrorCode int

const (
	LocalAddrUnknown ErrorCode = iota
	SelfConnectAttempt
	AlreadyConnected
	DialTimeout
	DialFailed
	HandshakeIncomplete
	UnexpectedMessage
	ChallengeRejected
	PeerNotConnected
	SerializationFailed
	FrameTooLarge
	MagicTokenMismatch
	ProtocolBreach
	PingTimeout
)

var errorToString = map[ErrorCode]string{
	LocalAddrUnknown:    "Local address unknown",
	SelfConnectAttempt:  "Attempted connection to self",
	AlreadyConnected:    "Peer already connected",
	DialTimeout:         "Dial timed out",
	DialFailed:          "Dial failed",
	HandshakeIncomplete: "Handshake incomplete",
	UnexpectedMessage:   "Unexpected message",
	ChallengeRejected:   "Challenge rejected",
	PeerNotConnected:    "Peer not connected",
	SerializationFailed: "Serialization failed",
	FrameTooLarge:       "Frame too large",
	MagicTokenMismatch:  "Magic token mismatch",
	ProtocolBreach:      "Protocol breach",
	PingTimeout:         "Ping timeout",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	desc, ok := errorToString[c]
	if !ok {
		return fmt.Sprintf("Unknown error (%d)", int(c))
	}
	return desc
}

// PeerError is an error tied to a single connection attempt or session.
// Errors of different codes never compare equal under errors.Is.
type PeerError struct {
	Code    ErrorCode
	message string
}

func newPeerError(code ErrorCode, format string, v ...interface{}) *PeerError {
	desc, ok := errorToString[code]
	if !ok {
		panic("invalid error code")
	}
	err := &PeerError{Code: code, message: desc}
	if format != "" {
		err.message += ": " + fmt.Sprintf(format, v...)
	}
	return err
}

// Error implements the error interface.
func (pe *PeerError) Error() string {
	return pe.message
}

// Is reports whether target is a PeerError carrying the same code,
// making peer errors matchable with errors.Is.
func (pe *PeerError) Is(target error) bool {
	t, ok := target.(*PeerError)
	return ok && t.Code == pe.Code
}

// errCode extracts the ErrorCode of err, if it is a PeerError.
func errCode(err error) (ErrorCode, bool) {
	var pe *PeerError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}
