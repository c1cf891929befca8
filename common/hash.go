package common

import (
	"encoding/hex"
	"fmt"
)

// Hash160Length is the length in bytes of a RIPEMD160(SHA256(...)) digest,
// the form Stacks uses for principal and contract hashes.
const Hash160Length = 20

// BlockIDLength is the length in bytes of a StacksBlockId / index block
// hash: SHA512/256(consensus_hash || block_header_hash).
const BlockIDLength = 32

// Hash160 is a 20-byte RIPEMD160(SHA256(...)) digest.
type Hash160 [Hash160Length]byte

// BytesToHash160 sets the rightmost bytes of b into a Hash160, truncating
// from the left if b is longer than Hash160Length.
func BytesToHash160(b []byte) Hash160 {
	var h Hash160
	if len(b) > Hash160Length {
		b = b[len(b)-Hash160Length:]
	}
	copy(h[Hash160Length-len(b):], b)
	return h
}

// HexToHash160 parses a hex string (with or without "0x" prefix) into a Hash160.
func HexToHash160(s string) Hash160 {
	return BytesToHash160(FromHex(s))
}

func (h Hash160) Bytes() []byte  { return h[:] }
func (h Hash160) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash160) String() string { return h.Hex() }

func (h Hash160) IsZero() bool {
	return h == Hash160{}
}

// BlockID is a 32-byte StacksBlockId, the globally-unique index hash of a
// block derived from its consensus hash and header hash.
type BlockID [BlockIDLength]byte

// BytesToBlockID sets the rightmost bytes of b into a BlockID, truncating
// from the left if b is longer than BlockIDLength.
func BytesToBlockID(b []byte) BlockID {
	var id BlockID
	if len(b) > BlockIDLength {
		b = b[len(b)-BlockIDLength:]
	}
	copy(id[BlockIDLength-len(b):], b)
	return id
}

// HexToBlockID parses a hex string (with or without "0x" prefix) into a BlockID.
func HexToBlockID(s string) BlockID {
	return BytesToBlockID(FromHex(s))
}

func (id BlockID) Bytes() []byte  { return id[:] }
func (id BlockID) Hex() string    { return "0x" + hex.EncodeToString(id[:]) }
func (id BlockID) String() string { return id.Hex() }

func (id BlockID) IsZero() bool {
	return id == BlockID{}
}

// TxIDLength is the length in bytes of a Stacks transaction id: the
// SHA512/256 digest over a transaction's consensus-serialized bytes.
const TxIDLength = 32

// TxID is a 32-byte Stacks transaction id.
type TxID [TxIDLength]byte

// BytesToTxID sets the rightmost bytes of b into a TxID, truncating from
// the left if b is longer than TxIDLength.
func BytesToTxID(b []byte) TxID {
	var id TxID
	if len(b) > TxIDLength {
		b = b[len(b)-TxIDLength:]
	}
	copy(id[TxIDLength-len(b):], b)
	return id
}

// HexToTxID parses a hex string (with or without "0x" prefix) into a TxID.
func HexToTxID(s string) TxID {
	return BytesToTxID(FromHex(s))
}

func (id TxID) Bytes() []byte  { return id[:] }
func (id TxID) Hex() string    { return "0x" + hex.EncodeToString(id[:]) }
func (id TxID) String() string { return id.Hex() }

func (id TxID) IsZero() bool {
	return id == TxID{}
}

// IsHexBlockID reports whether s is a syntactically valid BlockID hex
// string, with an optional "0x" prefix.
func IsHexBlockID(s string) bool {
	if has0xPrefix(s) {
		s = s[2:]
	}
	return len(s) == 2*BlockIDLength && isHex(s)
}

// IsHexHash160 reports whether s is a syntactically valid Hash160 hex
// string, with an optional "0x" prefix.
func IsHexHash160(s string) bool {
	if has0xPrefix(s) {
		s = s[2:]
	}
	return len(s) == 2*Hash160Length && isHex(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// MustParseBlockID is a convenience constructor for literals and tests; it
// panics on malformed input.
func MustParseBlockID(s string) BlockID {
	if !IsHexBlockID(s) {
		panic(fmt.Sprintf("common: invalid block id %q", s))
	}
	return HexToBlockID(s)
}
