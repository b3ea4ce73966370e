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

// EmptyTxRoot is the transaction root of a block without transactions.
var EmptyTxRoot = keccak256(nil)

// genesisTime is the timestamp of the genesis block, 2025-01-01T00:00:00Z.
const genesisTime = 1735689600

var genesisHeader = &Header{
	ParentHash: Hash{},
	TxRoot:     EmptyTxRoot,
	Height:     0,
	Time:       genesisTime,
	Nonce:      0x42,
	Difficulty: 1 << 17,
}

// GenesisHeader returns the header of the basalt genesis block. The
// returned header is a copy and may be mutated by the caller.
func GenesisHeader() *Header {
	return CopyHeader(genesisHeader)
}

// GenesisHash returns the hash of the basalt genesis block header.
func GenesisHash() Hash {
	return genesisHeader.Hash()
}
