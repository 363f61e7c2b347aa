// Package header implements the C1 hash kernel: deterministic byte-exact
// construction of the 80-byte block header prefix, compact -> 256-bit
// target expansion, and double-SHA-256 header hashing, per spec.md §4.1.
package header

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// Template carries the five header-determining fields a worker receives
// from the coordinator (the mining template of spec.md §3's BlockTemplate).
type Template struct {
	Version        int32
	PrevBlock      [32]byte // little-endian, as carried on the wire
	MrklRoot       [32]byte // little-endian
	Timestamp      uint32
	BitsDifficulty uint32
}

// Prefix is the 76-byte precomputed portion of the header shared by every
// nonce attempt within one job: version, prev_block, mrkl_root, timestamp
// and bits, in that order. Only the trailing 4-byte nonce varies.
type Prefix [76]byte

// BuildPrefix serializes the first 76 bytes of the header exactly as
// spec.md §4.1 prescribes: version (4B LE signed), prev_block (32B LE),
// mrkl_root (32B LE), timestamp (4B LE unsigned), bits (4B LE unsigned).
func BuildPrefix(t Template) Prefix {
	var p Prefix
	binary.LittleEndian.PutUint32(p[0:4], uint32(t.Version))
	copy(p[4:36], t.PrevBlock[:])
	copy(p[36:68], t.MrklRoot[:])
	binary.LittleEndian.PutUint32(p[68:72], t.Timestamp)
	binary.LittleEndian.PutUint32(p[72:76], t.BitsDifficulty)
	return p
}

// WithTimestamp returns a copy of the prefix with the timestamp field
// replaced, used when a worker bumps the header timestamp on range
// exhaustion (spec.md §4.3).
func (p Prefix) WithTimestamp(ts uint32) Prefix {
	binary.LittleEndian.PutUint32(p[68:72], ts)
	return p
}

// Header returns the full 80-byte header for the given nonce.
func (p Prefix) Header(nonce uint32) [80]byte {
	var h [80]byte
	copy(h[0:76], p[:])
	binary.LittleEndian.PutUint32(h[76:80], nonce)
	return h
}

// Hash256 computes SHA-256(SHA-256(data)), Bitcoin's block-header hash
// function (spec.md §4.1, §8 property 6).
func Hash256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// HashInt interprets a double-SHA-256 digest as a 256-bit little-endian
// unsigned integer, per spec.md §4.1.
func HashInt(digest [32]byte) *big.Int {
	reversed := make([]byte, 32)
	for i, b := range digest {
		reversed[31-i] = b
	}
	return new(big.Int).SetBytes(reversed)
}

// TargetFromCompact expands a compact 32-bit difficulty encoding into a
// 256-bit target, per spec.md §4.1's formula. This delegates to
// blockchain.CompactToBig, the same function kangaroo-exccd's solution
// validator uses (blockchain.CompactToBig(header.Bits)), which implements
// the identical nbytes/mantissa expansion.
func TargetFromCompact(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// Valid reports whether nonce produces a header hash strictly less than
// target, per spec.md §4.1: "A nonce is valid iff hash_int < target."
func Valid(prefix Prefix, nonce uint32, target *big.Int) (bool, *big.Int) {
	h := prefix.Header(nonce)
	digest := Hash256(h[:])
	hi := HashInt(digest)
	return hi.Cmp(target) < 0, hi
}
