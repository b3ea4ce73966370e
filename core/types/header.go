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

package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/sha3"
)

// HashLength is the length of a block hash in bytes.
const HashLength = 32

// headerSize is the length of the binary encoding of a Header.
const headerSize = 2*HashLength + 4 + 3*8

// Hash represents the keccak-256 hash of arbitrary data.
type Hash [HashLength]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the hash as a 0x-prefixed hex string.
func (h Hash) Hex() string { return fmt.Sprintf("0x%x", h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// BytesToHash converts b to a Hash, left-padding it to the hash length.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Header represents a block header in the basalt chain.
type Header struct {
	ParentHash Hash   // hash of the parent block
	TxRoot     Hash   // root hash of the block's transaction set
	Height     uint32 // number of ancestor blocks
	Time       uint64 // creation timestamp, in Unix seconds
	Nonce      uint64
	Difficulty uint64

	// hash caches the header hash after the first call to Hash.
	hash atomic.Value
}

// Hash returns the keccak-256 hash of the header's binary encoding.
// The hash is computed on the first call and cached thereafter.
func (h *Header) Hash() Hash {
	if hash := h.hash.Load(); hash != nil {
		return hash.(Hash)
	}
	v := keccak256(h.EncodeBinary())
	h.hash.Store(v)
	return v
}

// EncodeBinary returns the canonical fixed-width encoding of the header.
// All multi-byte fields are big-endian.
func (h *Header) EncodeBinary() []byte {
	buf := make([]byte, headerSize)
	n := copy(buf, h.ParentHash[:])
	n += copy(buf[n:], h.TxRoot[:])
	binary.BigEndian.PutUint32(buf[n:], h.Height)
	n += 4
	binary.BigEndian.PutUint64(buf[n:], h.Time)
	n += 8
	binary.BigEndian.PutUint64(buf[n:], h.Nonce)
	n += 8
	binary.BigEndian.PutUint64(buf[n:], h.Difficulty)
	return buf
}

// DecodeHeader decodes a header from its canonical binary encoding.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) != headerSize {
		return nil, fmt.Errorf("invalid header encoding: %d bytes, want %d", len(b), headerSize)
	}
	h := new(Header)
	n := copy(h.ParentHash[:], b)
	n += copy(h.TxRoot[:], b[n:])
	h.Height = binary.BigEndian.Uint32(b[n:])
	n += 4
	h.Time = binary.BigEndian.Uint64(b[n:])
	n += 8
	h.Nonce = binary.BigEndian.Uint64(b[n:])
	n += 8
	h.Difficulty = binary.BigEndian.Uint64(b[n:])
	return h, nil
}

// SanityCheck verifies the structural validity of the header. It does not
// verify proof-of-work or chain linkage, only that the fields are shaped
// like a well-formed header.
func (h *Header) SanityCheck() error {
	if h.Difficulty == 0 {
		return errors.New("zero difficulty")
	}
	if h.Time == 0 {
		return errors.New("zero timestamp")
	}
	if h.Height == 0 {
		if h.ParentHash != (Hash{}) {
			return fmt.Errorf("genesis header with parent hash %v", h.ParentHash)
		}
	} else if h.ParentHash == (Hash{}) {
		return fmt.Errorf("header at height %d without parent hash", h.Height)
	}
	return nil
}

// String implements fmt.Stringer.
func (h *Header) String() string {
	return fmt.Sprintf("header(height=%d hash=%v)", h.Height, h.Hash())
}

// CopyHeader creates a deep copy of a header, without the cached hash.
func CopyHeader(h *Header) *Header {
	return &Header{
		ParentHash: h.ParentHash,
		TxRoot:     h.TxRoot,
		Height:     h.Height,
		Time:       h.Time,
		Nonce:      h.Nonce,
		Difficulty: h.Difficulty,
	}
}

func keccak256(data []byte) Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	return BytesToHash(d.Sum(nil))
}
