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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
)

// maxFrameSize bounds the payload of a single frame. Peers announcing
// larger frames are cut off before any allocation happens.
const maxFrameSize = 1 << 20

var magicToken = []byte{0x62, 0x61, 0x73, 0x1c}

// frameRW splits a byte stream into length-prefixed frames. Each frame
// on the wire is the 4-byte magic token, a big-endian uint32 payload
// length and the payload itself. Reads are buffered; writes go out as a
// single Write call so a frame is never interleaved with another.
//
// frameRW is not safe for concurrent use. Each session owns its frameRW
// exclusively and is the only reader and writer.
type frameRW struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFrameRW(conn net.Conn) *frameRW {
	return &frameRW{conn: conn, r: bufio.NewReader(conn)}
}

// WriteFrame sends one frame carrying payload.
func (rw *frameRW) WriteFrame(payload []byte) error {
	if len(payload) > maxFrameSize {
		return newPeerError(FrameTooLarge, "%d bytes", len(payload))
	}
	buf := make([]byte, 8+len(payload))
	copy(buf, magicToken)
	binary.BigEndian.PutUint32(buf[4:], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err := rw.conn.Write(buf)
	return err
}

// ReadFrame reads the next frame's payload. A clean close of the stream
// between frames is reported as io.EOF; a stream ending mid-frame is
// reported as io.ErrUnexpectedEOF.
func (rw *frameRW) ReadFrame() ([]byte, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(rw.r, head); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	if !bytes.Equal(head[:4], magicToken) {
		return nil, newPeerError(MagicTokenMismatch, "got %x, want %x", head[:4], magicToken)
	}
	size := binary.BigEndian.Uint32(head[4:])
	if size > maxFrameSize {
		return nil, newPeerError(FrameTooLarge, "%d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(rw.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close closes the underlying connection.
func (rw *frameRW) Close() error {
	return rw.conn.Close()
}
